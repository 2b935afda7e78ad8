package analyzer

import (
	"fmt"
	"sort"
	"strings"
)

// NotDisplayable is returned by Format for results without a payload.
const NotDisplayable = "Results not available for display"

// Format renders a result as markdown. The summary section lists every
// summary metric as "- **Label:** value".
func Format(r Result) string {
	var b strings.Builder
	switch data := r.Data.(type) {
	case EC2SecurityGroups:
		formatEC2SecurityGroups(&b, data, r.Summary)
	case SecurityGroupUsageData:
		formatSecurityGroupUsage(&b, data, r.Summary)
	case VPCResourceData:
		formatVPCResources(&b, data, r.Summary)
	case []InstanceDetail:
		formatInstanceDetails(&b, data, r.Summary)
	case CostData:
		formatCost(&b, data, r.Summary)
	case []ComplianceIssue:
		formatCompliance(&b, data, r.Summary)
	case []Relationship:
		formatRelationships(&b, data, r.Summary)
	case []UnusedResource:
		formatUnused(&b, data, r.Summary)
	default:
		return NotDisplayable
	}
	return strings.TrimRight(b.String(), "\n")
}

func line(b *strings.Builder, format string, args ...any) {
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

func writeSummary(b *strings.Builder, s Summary) {
	line(b, "## Summary")
	for _, m := range s {
		if m.Unit != "" {
			line(b, "- **%s:** %d %s", m.Label, m.Value, m.Unit)
			continue
		}
		line(b, "- **%s:** %d", m.Label, m.Value)
	}
}

func writeGroups(b *strings.Builder, refs []SecurityGroupRef) {
	for _, ref := range refs {
		line(b, "- %s", ref)
	}
}

func formatEC2SecurityGroups(b *strings.Builder, d EC2SecurityGroups, s Summary) {
	line(b, "# EC2 Instances with Security Groups\n")
	for _, inst := range d.Instances {
		line(b, "## Instance: %s (%s)", inst.InstanceID, inst.InstanceType)
		line(b, "**State:** %s", inst.State)
		line(b, "**Public IP:** %s", inst.PublicIP)
		line(b, "**Private IP:** %s", inst.PrivateIP)
		line(b, "**VPC:** %s", inst.VpcID)
		line(b, "**Subnet:** %s", inst.SubnetID)
		line(b, "\n**Security Groups:**")
		writeGroups(b, inst.SecurityGroups)
		line(b, "\n---\n")
	}
	writeSummary(b, s)
	line(b, "\n**All Security Groups Used:**")
	for _, sg := range d.UniqueSecurityGroups {
		line(b, "- %s", sg)
	}
}

func formatSecurityGroupUsage(b *strings.Builder, d SecurityGroupUsageData, s Summary) {
	line(b, "# Security Group Usage Analysis\n")
	line(b, "## Used Security Groups\n")

	ids := make([]string, 0, len(d.UsageMap))
	for id := range d.UsageMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		uses := d.UsageMap[id]
		info, ok := d.AllSecurityGroups[id]
		if !ok {
			info = SecurityGroupInfo{ID: id, Name: unknown, Description: noDescription, VpcID: unknown}
		}
		line(b, "### %s (%s)", info.Name, id)
		line(b, "**Description:** %s", info.Description)
		line(b, "**VPC:** %s", info.VpcID)
		line(b, "**Rules:** %d", info.RulesCount)
		line(b, "**Used by %d resource(s):**", len(uses))
		for _, u := range uses {
			line(b, "- %s: %s - %s", u.ResourceType, u.ResourceID, u.ResourceDetails)
		}
		line(b, "")
	}

	if len(d.Unused) > 0 {
		line(b, "## Unused Security Groups\n")
		for _, sg := range d.Unused {
			line(b, "- **%s** (%s) - %s [VPC: %s, rules: %d]", sg.Name, sg.ID, sg.Description, sg.VpcID, sg.RulesCount)
		}
		line(b, "")
	}
	writeSummary(b, s)
}

func formatVPCResources(b *strings.Builder, d VPCResourceData, s Summary) {
	line(b, "# VPC Resources Analysis\n")

	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		g := d[id]
		line(b, "## VPC: %s", id)
		info := VPCInfo{CidrBlock: unknown, State: unknown}
		if g.VPCInfo != nil {
			info = *g.VPCInfo
		}
		line(b, "**CIDR Block:** %s", info.CidrBlock)
		line(b, "**State:** %s", info.State)
		line(b, "**Is Default:** %t", info.IsDefault)

		if len(g.Instances) > 0 {
			line(b, "\n**EC2 Instances (%d):**", len(g.Instances))
			for _, inst := range g.Instances {
				line(b, "- %s (%s) - %s, subnet %s", inst.InstanceID, inst.InstanceType, inst.State, inst.SubnetID)
			}
		}
		if len(g.Subnets) > 0 {
			line(b, "\n**Subnets (%d):**", len(g.Subnets))
			for _, sn := range g.Subnets {
				line(b, "- %s (%s) - AZ: %s, %d IPs available", sn.SubnetID, sn.CidrBlock, sn.AvailabilityZone, sn.AvailableIPCount)
			}
		}
		if len(g.SecurityGroups) > 0 {
			line(b, "\n**Security Groups (%d):**", len(g.SecurityGroups))
			for _, sg := range g.SecurityGroups {
				line(b, "- %s (%s) - %s", sg.GroupName, sg.GroupID, sg.Description)
			}
		}
		line(b, "\n---\n")
	}
	writeSummary(b, s)
}

func formatInstanceDetails(b *strings.Builder, d []InstanceDetail, s Summary) {
	line(b, "# EC2 Instance Details\n")
	for _, inst := range d {
		line(b, "## %s (%s)", inst.InstanceID, inst.InstanceType)
		line(b, "**State:** %s", inst.State)
		line(b, "**Launch Time:** %s", inst.LaunchTime)
		line(b, "**Availability Zone:** %s", inst.AvailabilityZone)
		line(b, "**Public IP:** %s", inst.PublicIP)
		line(b, "**Private IP:** %s", inst.PrivateIP)
		line(b, "**VPC:** %s", inst.VpcID)
		line(b, "**Subnet:** %s", inst.SubnetID)
		line(b, "**Key Pair:** %s", inst.KeyName)
		line(b, "**Platform:** %s", inst.Platform)
		line(b, "**Monitoring:** %s", inst.Monitoring)

		if len(inst.SecurityGroups) > 0 {
			line(b, "\n**Security Groups:**")
			writeGroups(b, inst.SecurityGroups)
		}
		if len(inst.Tags) > 0 {
			line(b, "\n**Tags:**")
			keys := make([]string, 0, len(inst.Tags))
			for k := range inst.Tags {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				line(b, "- %s: %s", k, inst.Tags[k])
			}
		}
		line(b, "\n---\n")
	}
	writeSummary(b, s)
}

func formatCost(b *strings.Builder, d CostData, s Summary) {
	line(b, "# Cost Analysis\n")
	line(b, "## EC2 Instances Cost Analysis\n")
	for _, inst := range d.EC2Instances {
		line(b, "### %s (%s)", inst.InstanceID, inst.InstanceType)
		line(b, "**State:** %s", inst.State)
		line(b, "**Cost Tier:** %s", inst.CostTier)
		line(b, "**Running Cost Impact:** %s", inst.RunningCostImpact)
		line(b, "**Public IP:** %s", inst.PublicIP)
		line(b, "")
	}
	line(b, "## Storage Cost Analysis\n")
	for _, vol := range d.StorageVolumes {
		line(b, "### %s (%s)", vol.VolumeID, vol.VolumeType)
		line(b, "**Size:** %d GB", vol.SizeGB)
		line(b, "**State:** %s", vol.State)
		line(b, "**Cost Impact:** %s", vol.CostImpact)
		line(b, "")
	}
	writeSummary(b, s)
}

func formatCompliance(b *strings.Builder, d []ComplianceIssue, s Summary) {
	line(b, "# Compliance Check Results\n")
	bySeverity := make(map[Severity][]ComplianceIssue)
	for _, issue := range d {
		bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue)
	}
	for _, sev := range severityOrder {
		if len(bySeverity[sev]) == 0 {
			continue
		}
		line(b, "## %s Severity Issues\n", sev)
		for _, issue := range bySeverity[sev] {
			line(b, "### %s: %s", issue.ResourceType, issue.ResourceID)
			line(b, "**Issue:** %s", issue.Issue)
			line(b, "**Recommendation:** %s", issue.Recommendation)
			line(b, "")
		}
	}
	writeSummary(b, s)
}

func formatRelationships(b *strings.Builder, d []Relationship, s Summary) {
	line(b, "# Resource Relationships\n")
	var kinds []string
	byKind := make(map[string][]Relationship)
	for _, rel := range d {
		if _, ok := byKind[rel.RelationshipType]; !ok {
			kinds = append(kinds, rel.RelationshipType)
		}
		byKind[rel.RelationshipType] = append(byKind[rel.RelationshipType], rel)
	}
	for _, kind := range kinds {
		line(b, "## %s Relationships\n", kind)
		for _, rel := range byKind[kind] {
			line(b, "- %s `%s` → %s `%s`", rel.SourceType, rel.SourceID, rel.TargetType, rel.TargetID)
		}
		line(b, "")
	}
	writeSummary(b, s)
}

func formatUnused(b *strings.Builder, d []UnusedResource, s Summary) {
	line(b, "# Unused Resources Analysis\n")
	for _, res := range d {
		line(b, "## %s: %s", res.ResourceType, res.ResourceID)
		line(b, "**Issue:** %s", res.Issue)
		line(b, "**Potential Saving:** %s", res.PotentialSaving)
		if res.LastActivity != "" {
			line(b, "**Last Activity:** %s", res.LastActivity)
		}
		if res.VolumeType != "" {
			line(b, "**Volume Type:** %s", res.VolumeType)
		}
		line(b, "")
	}
	writeSummary(b, s)
}
