package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

const (
	unknown       = "Unknown"
	none          = "None"
	noDescription = "No description"
	openCIDR      = "0.0.0.0/0"

	typeEC2Instance   = "EC2 Instance"
	typeEBSVolume     = "EBS Volume"
	typeSecurityGroup = "Security Group"
)

// ec2Instances flattens reservations into instance records.
func ec2Instances(data inventory.RawResourceSet) []inventory.Record {
	var out []inventory.Record
	for _, reservation := range data.Records(inventory.EC2, inventory.Instances) {
		out = append(out, reservation.Records("Instances")...)
	}
	return out
}

func instanceState(inst inventory.Record) string {
	return inst.Map("State").StrOr("Name", unknown)
}

func securityGroupRefs(inst inventory.Record) []SecurityGroupRef {
	refs := []SecurityGroupRef{}
	for _, sg := range inst.Records("SecurityGroups") {
		refs = append(refs, SecurityGroupRef{
			ID:   sg.StrOr("GroupId", unknown),
			Name: sg.StrOr("GroupName", unknown),
		})
	}
	return refs
}

func analyzeEC2SecurityGroups(question string, data inventory.RawResourceSet) Result {
	runningOnly := strings.Contains(strings.ToLower(question), "running")
	payload := EC2SecurityGroups{
		Instances:            []InstanceSecurityGroups{},
		UniqueSecurityGroups: []string{},
	}
	seen := make(map[string]bool)

	for _, inst := range ec2Instances(data) {
		state := instanceState(inst)
		if runningOnly && state != "running" {
			continue
		}

		refs := securityGroupRefs(inst)
		for _, ref := range refs {
			label := ref.String()
			if !seen[label] {
				seen[label] = true
				payload.UniqueSecurityGroups = append(payload.UniqueSecurityGroups, label)
			}
		}

		payload.Instances = append(payload.Instances, InstanceSecurityGroups{
			InstanceID:     inst.StrOr("InstanceId", unknown),
			InstanceType:   inst.StrOr("InstanceType", unknown),
			State:          state,
			SecurityGroups: refs,
			PublicIP:       inst.StrOr("PublicIpAddress", none),
			PrivateIP:      inst.StrOr("PrivateIpAddress", none),
			VpcID:          inst.StrOr("VpcId", unknown),
			SubnetID:       inst.StrOr("SubnetId", unknown),
		})
	}
	sort.Strings(payload.UniqueSecurityGroups)

	return Result{
		Type: EC2WithSecurityGroups,
		Data: payload,
		Summary: Summary{
			{Key: "total_instances", Label: "Total Instances", Value: len(payload.Instances)},
			{Key: "unique_security_groups_count", Label: "Unique Security Groups", Value: len(payload.UniqueSecurityGroups)},
		},
	}
}

func analyzeSecurityGroupUsage(_ string, data inventory.RawResourceSet) Result {
	payload := SecurityGroupUsageData{
		UsageMap:          make(map[string][]SecurityGroupUse),
		AllSecurityGroups: make(map[string]SecurityGroupInfo),
		Unused:            []SecurityGroupInfo{},
	}

	var order []string
	for _, sg := range data.Records(inventory.EC2, inventory.SecurityGroups) {
		id := sg.StrOr("GroupId", unknown)
		if _, dup := payload.AllSecurityGroups[id]; !dup {
			order = append(order, id)
		}
		payload.AllSecurityGroups[id] = SecurityGroupInfo{
			ID:          id,
			Name:        sg.StrOr("GroupName", unknown),
			Description: sg.StrOr("Description", noDescription),
			VpcID:       sg.StrOr("VpcId", unknown),
			RulesCount:  len(sg.Records("IpPermissions")),
		}
	}

	for _, inst := range ec2Instances(data) {
		use := SecurityGroupUse{
			ResourceType:    typeEC2Instance,
			ResourceID:      inst.StrOr("InstanceId", unknown),
			ResourceDetails: fmt.Sprintf("%s (%s)", inst.StrOr("InstanceType", unknown), instanceState(inst)),
		}
		for _, ref := range securityGroupRefs(inst) {
			payload.UsageMap[ref.ID] = append(payload.UsageMap[ref.ID], use)
		}
	}

	for _, id := range order {
		if _, used := payload.UsageMap[id]; !used {
			payload.Unused = append(payload.Unused, payload.AllSecurityGroups[id])
		}
	}

	return Result{
		Type: SecurityGroupUsage,
		Data: payload,
		Summary: Summary{
			{Key: "total_security_groups", Label: "Total Security Groups", Value: len(payload.AllSecurityGroups)},
			{Key: "used_security_groups", Label: "Used Security Groups", Value: len(payload.UsageMap)},
			{Key: "unused_security_groups", Label: "Unused Security Groups", Value: len(payload.Unused)},
		},
	}
}

func analyzeVPCResources(_ string, data inventory.RawResourceSet) Result {
	groups := make(VPCResourceData)
	group := func(id string) *VPCResourceGroup {
		g, ok := groups[id]
		if !ok {
			g = &VPCResourceGroup{
				Instances:      []VPCInstance{},
				Subnets:        []VPCSubnet{},
				SecurityGroups: []VPCSecurityGroup{},
			}
			groups[id] = g
		}
		return g
	}

	for _, vpc := range data.Records(inventory.EC2, inventory.VPCs) {
		group(vpc.StrOr("VpcId", unknown)).VPCInfo = &VPCInfo{
			CidrBlock: vpc.StrOr("CidrBlock", unknown),
			State:     vpc.StrOr("State", unknown),
			IsDefault: vpc.Bool("IsDefault"),
		}
	}

	instances := 0
	for _, inst := range ec2Instances(data) {
		g := group(inst.StrOr("VpcId", unknown))
		g.Instances = append(g.Instances, VPCInstance{
			InstanceID:   inst.StrOr("InstanceId", unknown),
			InstanceType: inst.StrOr("InstanceType", unknown),
			State:        instanceState(inst),
			SubnetID:     inst.StrOr("SubnetId", unknown),
		})
		instances++
	}

	subnets := 0
	for _, sn := range data.Records(inventory.EC2, inventory.Subnets) {
		g := group(sn.StrOr("VpcId", unknown))
		g.Subnets = append(g.Subnets, VPCSubnet{
			SubnetID:         sn.StrOr("SubnetId", unknown),
			CidrBlock:        sn.StrOr("CidrBlock", unknown),
			AvailabilityZone: sn.StrOr("AvailabilityZone", unknown),
			AvailableIPCount: sn.Int("AvailableIpAddressCount"),
		})
		subnets++
	}

	for _, sg := range data.Records(inventory.EC2, inventory.SecurityGroups) {
		g := group(sg.StrOr("VpcId", unknown))
		g.SecurityGroups = append(g.SecurityGroups, VPCSecurityGroup{
			GroupID:     sg.StrOr("GroupId", unknown),
			GroupName:   sg.StrOr("GroupName", unknown),
			Description: sg.StrOr("Description", noDescription),
		})
	}

	return Result{
		Type: VPCResources,
		Data: groups,
		Summary: Summary{
			{Key: "total_vpcs", Label: "Total VPCs", Value: len(groups)},
			{Key: "total_instances", Label: "Total Instances", Value: instances},
			{Key: "total_subnets", Label: "Total Subnets", Value: subnets},
		},
	}
}

func analyzeInstanceDetails(_ string, data inventory.RawResourceSet) Result {
	details := []InstanceDetail{}
	running, stopped := 0, 0

	for _, inst := range ec2Instances(data) {
		tags := make(map[string]string)
		for _, tag := range inst.Records("Tags") {
			tags[tag.StrOr("Key", unknown)] = tag.StrOr("Value", unknown)
		}

		d := InstanceDetail{
			InstanceID:       inst.StrOr("InstanceId", unknown),
			InstanceType:     inst.StrOr("InstanceType", unknown),
			State:            instanceState(inst),
			LaunchTime:       inst.StrOr("LaunchTime", unknown),
			PublicIP:         inst.StrOr("PublicIpAddress", none),
			PrivateIP:        inst.StrOr("PrivateIpAddress", none),
			VpcID:            inst.StrOr("VpcId", unknown),
			SubnetID:         inst.StrOr("SubnetId", unknown),
			AvailabilityZone: inst.Map("Placement").StrOr("AvailabilityZone", unknown),
			KeyName:          inst.StrOr("KeyName", none),
			SecurityGroups:   securityGroupRefs(inst),
			Tags:             tags,
			Monitoring:       inst.Map("Monitoring").StrOr("State", unknown),
			Platform:         inst.StrOr("Platform", "Linux/Unix"),
		}
		switch d.State {
		case "running":
			running++
		case "stopped":
			stopped++
		}
		details = append(details, d)
	}

	return Result{
		Type: InstanceDetails,
		Data: details,
		Summary: Summary{
			{Key: "total_instances", Label: "Total Instances", Value: len(details)},
			{Key: "running_instances", Label: "Running Instances", Value: running},
			{Key: "stopped_instances", Label: "Stopped Instances", Value: stopped},
		},
	}
}

// costTier buckets an instance type by size name. Any type containing
// "large" (xlarge included) lands in MEDIUM.
func costTier(instanceType string) string {
	if instanceType == "" || instanceType == unknown {
		return "UNKNOWN"
	}
	for _, size := range []string{"nano", "micro", "small"} {
		if strings.Contains(instanceType, size) {
			return "LOW"
		}
	}
	for _, size := range []string{"medium", "large"} {
		if strings.Contains(instanceType, size) {
			return "MEDIUM"
		}
	}
	return "HIGH"
}

func runningCostImpact(state, tier string) string {
	switch {
	case state == "running" && tier == "HIGH":
		return "HIGH"
	case state == "running":
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func volumeCostImpact(sizeGB int) string {
	switch {
	case sizeGB > 100:
		return "HIGH"
	case sizeGB > 20:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func analyzeCost(_ string, data inventory.RawResourceSet) Result {
	payload := CostData{
		EC2Instances:   []InstanceCost{},
		StorageVolumes: []VolumeCost{},
	}
	highCost, running, storage := 0, 0, 0

	for _, inst := range ec2Instances(data) {
		instanceType := inst.StrOr("InstanceType", unknown)
		state := instanceState(inst)
		tier := costTier(instanceType)
		if tier == "HIGH" {
			highCost++
		}
		if state == "running" {
			running++
		}
		payload.EC2Instances = append(payload.EC2Instances, InstanceCost{
			InstanceID:        inst.StrOr("InstanceId", unknown),
			InstanceType:      instanceType,
			State:             state,
			CostTier:          tier,
			PublicIP:          inst.StrOr("PublicIpAddress", none),
			RunningCostImpact: runningCostImpact(state, tier),
		})
	}

	for _, vol := range data.Records(inventory.EC2, inventory.Volumes) {
		size := vol.Int("Size")
		storage += size
		payload.StorageVolumes = append(payload.StorageVolumes, VolumeCost{
			VolumeID:   vol.StrOr("VolumeId", unknown),
			VolumeType: vol.StrOr("VolumeType", unknown),
			SizeGB:     size,
			State:      vol.StrOr("State", unknown),
			CostImpact: volumeCostImpact(size),
		})
	}

	return Result{
		Type: CostAnalysis,
		Data: payload,
		Summary: Summary{
			{Key: "high_cost_instances", Label: "High Cost Instances", Value: highCost},
			{Key: "running_instances", Label: "Running Instances", Value: running},
			{Key: "total_storage_gb", Label: "Total Storage", Value: storage, Unit: "GB"},
		},
	}
}

// openRules counts the IP ranges of a security group open to any source.
func openRules(sg inventory.Record) int {
	n := 0
	for _, rule := range sg.Records("IpPermissions") {
		for _, r := range rule.Records("IpRanges") {
			if r.Str("CidrIp") == openCIDR {
				n++
			}
		}
	}
	return n
}

func analyzeCompliance(_ string, data inventory.RawResourceSet) Result {
	issues := []ComplianceIssue{}

	for _, inst := range ec2Instances(data) {
		id := inst.StrOr("InstanceId", unknown)
		if inst.Str("PublicIpAddress") != "" {
			issues = append(issues, ComplianceIssue{
				ResourceType:   typeEC2Instance,
				ResourceID:     id,
				Issue:          "Has public IP address",
				Severity:       SeverityMedium,
				Recommendation: "Review if public access is necessary",
			})
		}
		if len(inst.Records("Tags")) == 0 {
			issues = append(issues, ComplianceIssue{
				ResourceType:   typeEC2Instance,
				ResourceID:     id,
				Issue:          "No tags defined",
				Severity:       SeverityLow,
				Recommendation: "Add proper tags for governance",
			})
		}
	}

	for _, sg := range data.Records(inventory.EC2, inventory.SecurityGroups) {
		ref := SecurityGroupRef{ID: sg.StrOr("GroupId", unknown), Name: sg.StrOr("GroupName", unknown)}
		for i := 0; i < openRules(sg); i++ {
			issues = append(issues, ComplianceIssue{
				ResourceType:   typeSecurityGroup,
				ResourceID:     ref.String(),
				Issue:          "Allows access from anywhere (0.0.0.0/0)",
				Severity:       SeverityHigh,
				Recommendation: "Restrict source IP ranges",
			})
		}
	}

	counts := make(map[Severity]int)
	for _, issue := range issues {
		counts[issue.Severity]++
	}

	return Result{
		Type: ComplianceCheck,
		Data: issues,
		Summary: Summary{
			{Key: "total_issues", Label: "Total Issues", Value: len(issues)},
			{Key: "high_severity", Label: "High Severity", Value: counts[SeverityHigh]},
			{Key: "medium_severity", Label: "Medium Severity", Value: counts[SeverityMedium]},
			{Key: "low_severity", Label: "Low Severity", Value: counts[SeverityLow]},
		},
	}
}

func analyzeRelationships(_ string, data inventory.RawResourceSet) Result {
	edges := []Relationship{}

	for _, inst := range ec2Instances(data) {
		id := inst.StrOr("InstanceId", unknown)
		edges = append(edges,
			Relationship{typeEC2Instance, id, "VPC", inst.StrOr("VpcId", unknown), "LOCATED_IN"},
			Relationship{typeEC2Instance, id, "Subnet", inst.StrOr("SubnetId", unknown), "LOCATED_IN"},
		)
		for _, ref := range securityGroupRefs(inst) {
			edges = append(edges, Relationship{typeEC2Instance, id, typeSecurityGroup, ref.ID, "PROTECTED_BY"})
		}
	}

	sources := make(map[string]bool)
	targets := make(map[string]bool)
	for _, e := range edges {
		sources[e.SourceID] = true
		targets[e.TargetID] = true
	}

	return Result{
		Type: ResourceRelationships,
		Data: edges,
		Summary: Summary{
			{Key: "total_relationships", Label: "Total Relationships", Value: len(edges)},
			{Key: "unique_sources", Label: "Unique Sources", Value: len(sources)},
			{Key: "unique_targets", Label: "Unique Targets", Value: len(targets)},
		},
	}
}

func analyzeUnused(_ string, data inventory.RawResourceSet) Result {
	unused := []UnusedResource{}
	stopped, unattached := 0, 0

	for _, inst := range ec2Instances(data) {
		if instanceState(inst) != "stopped" {
			continue
		}
		stopped++
		unused = append(unused, UnusedResource{
			ResourceType:    typeEC2Instance,
			ResourceID:      inst.StrOr("InstanceId", unknown),
			Issue:           "Instance is stopped",
			PotentialSaving: "Consider terminating if not needed",
			LastActivity:    inst.StrOr("StateTransitionReason", unknown),
		})
	}

	for _, vol := range data.Records(inventory.EC2, inventory.Volumes) {
		if vol.StrOr("State", unknown) != "available" {
			continue
		}
		unattached++
		unused = append(unused, UnusedResource{
			ResourceType:    typeEBSVolume,
			ResourceID:      vol.StrOr("VolumeId", unknown),
			Issue:           "Volume is not attached to any instance",
			PotentialSaving: fmt.Sprintf("Storage cost for %dGB", vol.Int("Size")),
			VolumeType:      vol.StrOr("VolumeType", unknown),
		})
	}

	return Result{
		Type: UnusedResources,
		Data: unused,
		Summary: Summary{
			{Key: "total_unused", Label: "Total Unused Resources", Value: len(unused)},
			{Key: "stopped_instances", Label: "Stopped Instances", Value: stopped},
			{Key: "unattached_volumes", Label: "Unattached Volumes", Value: unattached},
		},
	}
}
