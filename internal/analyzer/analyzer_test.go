package analyzer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

const fixtureJSON = `{
  "EC2": {
    "instances": [
      {"ReservationId": "r-1", "Instances": [
        {"InstanceId": "i-1", "InstanceType": "t3.micro", "State": {"Name": "running"},
         "PublicIpAddress": "54.1.2.3", "PrivateIpAddress": "10.0.1.10",
         "VpcId": "vpc-1", "SubnetId": "subnet-1",
         "Placement": {"AvailabilityZone": "us-east-1a"}, "KeyName": "ops",
         "SecurityGroups": [{"GroupId": "sg-1", "GroupName": "web"}],
         "Tags": [{"Key": "Name", "Value": "web-1"}],
         "Monitoring": {"State": "disabled"}, "LaunchTime": "2024-01-02T03:04:05Z"},
        {"InstanceId": "i-2", "InstanceType": "m5.4xlarge", "State": {"Name": "stopped"},
         "PrivateIpAddress": "10.0.1.11", "VpcId": "vpc-1", "SubnetId": "subnet-1",
         "SecurityGroups": [], "StateTransitionReason": "User initiated"}
      ]}
    ],
    "security_groups": [
      {"GroupId": "sg-1", "GroupName": "web", "Description": "web tier", "VpcId": "vpc-1",
       "IpPermissions": [{"IpProtocol": "tcp", "FromPort": 443, "ToPort": 443,
                          "IpRanges": [{"CidrIp": "0.0.0.0/0"}]}]},
      {"GroupId": "sg-2", "GroupName": "db", "Description": "database", "VpcId": "vpc-1",
       "IpPermissions": []}
    ],
    "vpcs": [{"VpcId": "vpc-1", "CidrBlock": "10.0.0.0/16", "State": "available", "IsDefault": false}],
    "subnets": [{"SubnetId": "subnet-1", "VpcId": "vpc-1", "CidrBlock": "10.0.1.0/24",
                 "AvailabilityZone": "us-east-1a", "AvailableIpAddressCount": 250}],
    "volumes": [
      {"VolumeId": "vol-1", "VolumeType": "gp3", "Size": 150, "State": "in-use", "Encrypted": true},
      {"VolumeId": "vol-2", "VolumeType": "gp2", "Size": 30, "State": "available", "Encrypted": false}
    ]
  },
  "IAM": {"error": "AccessDenied: not authorized"}
}`

func fixture(t *testing.T) inventory.RawResourceSet {
	t.Helper()
	var data inventory.RawResourceSet
	require.NoError(t, json.Unmarshal([]byte(fixtureJSON), &data))
	return data
}

func TestDetect(t *testing.T) {
	tests := []struct {
		question string
		expected QueryType
	}{
		{"Show running EC2 with security groups", EC2WithSecurityGroups},
		{"which ec2 are running and what security group do they use", EC2WithSecurityGroups},
		{"which security groups are in use", SecurityGroupUsage},
		{"security group usage report", SecurityGroupUsage},
		{"list vpc resources", VPCResources},
		{"give me instance details", InstanceDetails},
		{"what is the most expensive thing", CostAnalysis},
		{"are we compliant", ComplianceCheck},
		{"how are my resources connected", ResourceRelationships},
		{"find idle resources", UnusedResources},
		{"hello there", General},
		{"", General},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.expected, Detect(tt.question))
		})
	}
}

func TestTypes_PriorityOrder(t *testing.T) {
	assert.Equal(t, []QueryType{
		EC2WithSecurityGroups, SecurityGroupUsage, VPCResources, InstanceDetails,
		CostAnalysis, ComplianceCheck, ResourceRelationships, UnusedResources,
	}, Types())
}

func TestRoute_General(t *testing.T) {
	res := Route("tell me a joke", fixture(t))

	assert.Equal(t, General, res.Type)
	assert.False(t, res.Structured())
	assert.Nil(t, res.Data)
	assert.Equal(t, NotRecognized, res.Message)
	assert.Equal(t, NotDisplayable, Format(res))
}

func TestRoute_EC2WithSecurityGroups_RunningOnly(t *testing.T) {
	res := Route("show running ec2 with security groups", fixture(t))

	require.Equal(t, EC2WithSecurityGroups, res.Type)
	data, ok := res.Data.(EC2SecurityGroups)
	require.True(t, ok)
	require.Len(t, data.Instances, 1)
	assert.Equal(t, "i-1", data.Instances[0].InstanceID)
	assert.Equal(t, "54.1.2.3", data.Instances[0].PublicIP)
	assert.Equal(t, []SecurityGroupRef{{ID: "sg-1", Name: "web"}}, data.Instances[0].SecurityGroups)
	assert.Equal(t, []string{"web (sg-1)"}, data.UniqueSecurityGroups)
	assert.Equal(t, map[string]int{"total_instances": 1, "unique_security_groups_count": 1}, res.Summary.Map())
}

func TestAnalyzeEC2SecurityGroups_AllStates(t *testing.T) {
	res := analyzeEC2SecurityGroups("ec2 security groups", fixture(t))

	data := res.Data.(EC2SecurityGroups)
	require.Len(t, data.Instances, 2)
	stopped := data.Instances[1]
	assert.Equal(t, "stopped", stopped.State)
	assert.Equal(t, "None", stopped.PublicIP)
	assert.Empty(t, stopped.SecurityGroups)
	assert.NotNil(t, stopped.SecurityGroups)
}

func TestRoute_SecurityGroupUsage(t *testing.T) {
	res := Route("which security groups are used", fixture(t))

	require.Equal(t, SecurityGroupUsage, res.Type)
	data := res.Data.(SecurityGroupUsageData)
	require.Len(t, data.Unused, 1)
	assert.Equal(t, "sg-2", data.Unused[0].ID)
	assert.Equal(t, "database", data.Unused[0].Description)
	assert.Equal(t, 1, data.AllSecurityGroups["sg-1"].RulesCount)
	require.Len(t, data.UsageMap["sg-1"], 1)
	assert.Equal(t, SecurityGroupUse{
		ResourceType:    "EC2 Instance",
		ResourceID:      "i-1",
		ResourceDetails: "t3.micro (running)",
	}, data.UsageMap["sg-1"][0])

	unused, _ := res.Summary.Value("unused_security_groups")
	assert.Equal(t, 1, unused)
	assert.Equal(t, map[string]int{
		"total_security_groups":  2,
		"used_security_groups":   1,
		"unused_security_groups": 1,
	}, res.Summary.Map())
}

func TestRoute_VPCResources(t *testing.T) {
	res := Route("show resources per vpc", fixture(t))

	require.Equal(t, VPCResources, res.Type)
	data := res.Data.(VPCResourceData)
	require.Contains(t, data, "vpc-1")
	group := data["vpc-1"]
	require.NotNil(t, group.VPCInfo)
	assert.Equal(t, "10.0.0.0/16", group.VPCInfo.CidrBlock)
	assert.Len(t, group.Instances, 2)
	assert.Len(t, group.SecurityGroups, 2)
	require.Len(t, group.Subnets, 1)
	assert.Equal(t, 250, group.Subnets[0].AvailableIPCount)
	assert.Equal(t, map[string]int{"total_vpcs": 1, "total_instances": 2, "total_subnets": 1}, res.Summary.Map())
}

func TestRoute_VPCResources_UnlistedVPC(t *testing.T) {
	data := inventory.RawResourceSet{
		inventory.EC2: inventory.Success(map[inventory.Subtype][]inventory.Record{
			inventory.Subnets: {{"SubnetId": "subnet-9", "VpcId": "vpc-9"}},
		}),
	}

	res := Route("vpc resources", data)

	group := res.Data.(VPCResourceData)["vpc-9"]
	require.NotNil(t, group)
	assert.Nil(t, group.VPCInfo)
	assert.Contains(t, Format(res), "**CIDR Block:** Unknown")
}

func TestRoute_InstanceDetails(t *testing.T) {
	res := Route("instance details please", fixture(t))

	require.Equal(t, InstanceDetails, res.Type)
	data := res.Data.([]InstanceDetail)
	require.Len(t, data, 2)

	first := data[0]
	assert.Equal(t, "us-east-1a", first.AvailabilityZone)
	assert.Equal(t, "ops", first.KeyName)
	assert.Equal(t, map[string]string{"Name": "web-1"}, first.Tags)
	assert.Equal(t, "disabled", first.Monitoring)
	assert.Equal(t, "Linux/Unix", first.Platform)
	assert.Equal(t, "2024-01-02T03:04:05Z", first.LaunchTime)

	second := data[1]
	assert.Equal(t, "None", second.KeyName)
	assert.Equal(t, "Unknown", second.AvailabilityZone)
	assert.Empty(t, second.Tags)

	assert.Equal(t, map[string]int{"total_instances": 2, "running_instances": 1, "stopped_instances": 1}, res.Summary.Map())
}

func TestCostTier(t *testing.T) {
	tests := []struct {
		instanceType string
		expected     string
	}{
		{"t3.nano", "LOW"},
		{"t3.micro", "LOW"},
		{"t3.small", "LOW"},
		{"t3.medium", "MEDIUM"},
		{"m5.large", "MEDIUM"},
		{"m5.4xlarge", "MEDIUM"},
		{"c5.metal", "HIGH"},
		{"", "UNKNOWN"},
		{"Unknown", "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.instanceType, func(t *testing.T) {
			assert.Equal(t, tt.expected, costTier(tt.instanceType))
		})
	}
}

func TestVolumeCostImpact(t *testing.T) {
	assert.Equal(t, "HIGH", volumeCostImpact(101))
	assert.Equal(t, "MEDIUM", volumeCostImpact(100))
	assert.Equal(t, "MEDIUM", volumeCostImpact(21))
	assert.Equal(t, "LOW", volumeCostImpact(20))
	assert.Equal(t, "LOW", volumeCostImpact(0))
}

func TestRoute_CostAnalysis(t *testing.T) {
	res := Route("what costs the most", fixture(t))

	require.Equal(t, CostAnalysis, res.Type)
	data := res.Data.(CostData)
	require.Len(t, data.EC2Instances, 2)
	assert.Equal(t, "LOW", data.EC2Instances[0].CostTier)
	assert.Equal(t, "MEDIUM", data.EC2Instances[0].RunningCostImpact)
	assert.Equal(t, "MEDIUM", data.EC2Instances[1].CostTier)
	assert.Equal(t, "LOW", data.EC2Instances[1].RunningCostImpact)
	require.Len(t, data.StorageVolumes, 2)
	assert.Equal(t, "HIGH", data.StorageVolumes[0].CostImpact)
	assert.Equal(t, "MEDIUM", data.StorageVolumes[1].CostImpact)
	assert.Equal(t, map[string]int{"high_cost_instances": 0, "running_instances": 1, "total_storage_gb": 180}, res.Summary.Map())
}

func TestRoute_ComplianceCheck(t *testing.T) {
	res := Route("run a compliance check", fixture(t))

	require.Equal(t, ComplianceCheck, res.Type)
	issues := res.Data.([]ComplianceIssue)

	bySeverity := map[Severity]int{}
	for _, issue := range issues {
		bySeverity[issue.Severity]++
	}
	assert.Equal(t, 1, bySeverity[SeverityMedium])
	assert.Equal(t, 1, bySeverity[SeverityHigh])
	assert.Equal(t, 1, bySeverity[SeverityLow])

	total, ok := res.Summary.Value("total_issues")
	require.True(t, ok)
	assert.Equal(t, len(issues), total)
	assert.Equal(t, "web (sg-1)", issues[len(issues)-1].ResourceID)
}

func TestRoute_ComplianceCheck_PublicIPAndOpenRule(t *testing.T) {
	data := inventory.RawResourceSet{
		inventory.EC2: inventory.Success(map[inventory.Subtype][]inventory.Record{
			inventory.Instances: {{"Instances": []any{
				map[string]any{
					"InstanceId":      "i-9",
					"PublicIpAddress": "3.3.3.3",
					"Tags":            []any{map[string]any{"Key": "env", "Value": "prod"}},
				},
			}}},
			inventory.SecurityGroups: {{
				"GroupId":   "sg-9",
				"GroupName": "open",
				"IpPermissions": []any{map[string]any{
					"IpRanges": []any{map[string]any{"CidrIp": "0.0.0.0/0"}},
				}},
			}},
		}),
	}

	res := Route("compliance", data)

	issues := res.Data.([]ComplianceIssue)
	require.Len(t, issues, 2)
	assert.Equal(t, SeverityMedium, issues[0].Severity)
	assert.Equal(t, SeverityHigh, issues[1].Severity)
	total, _ := res.Summary.Value("total_issues")
	assert.Equal(t, 2, total)
}

func TestRoute_ResourceRelationships(t *testing.T) {
	res := Route("show relationships", fixture(t))

	require.Equal(t, ResourceRelationships, res.Type)
	edges := res.Data.([]Relationship)
	require.Len(t, edges, 5)
	assert.Equal(t, Relationship{
		SourceType:       "EC2 Instance",
		SourceID:         "i-1",
		TargetType:       "Security Group",
		TargetID:         "sg-1",
		RelationshipType: "PROTECTED_BY",
	}, edges[2])
	assert.Equal(t, map[string]int{"total_relationships": 5, "unique_sources": 2, "unique_targets": 3}, res.Summary.Map())
}

func TestRoute_UnusedResources(t *testing.T) {
	res := Route("find unused stuff", fixture(t))

	require.Equal(t, UnusedResources, res.Type)
	unused := res.Data.([]UnusedResource)
	require.Len(t, unused, 2)
	assert.Equal(t, "i-2", unused[0].ResourceID)
	assert.Equal(t, "User initiated", unused[0].LastActivity)
	assert.Equal(t, "vol-2", unused[1].ResourceID)
	assert.Equal(t, "Storage cost for 30GB", unused[1].PotentialSaving)
	assert.Equal(t, "gp2", unused[1].VolumeType)
	assert.Equal(t, map[string]int{"total_unused": 2, "stopped_instances": 1, "unattached_volumes": 1}, res.Summary.Map())
}

var questions = map[QueryType]string{
	EC2WithSecurityGroups: "show running ec2 with security groups",
	SecurityGroupUsage:    "security group usage",
	VPCResources:          "vpc resources",
	InstanceDetails:       "instance details",
	CostAnalysis:          "cost",
	ComplianceCheck:       "compliance",
	ResourceRelationships: "relationships",
	UnusedResources:       "unused",
}

func TestRoute_ToleratesMissingData(t *testing.T) {
	inputs := map[string]inventory.RawResourceSet{
		"empty":       {},
		"nil":         nil,
		"failed ec2":  {inventory.EC2: inventory.Failure(assert.AnError)},
		"no subtypes": {inventory.EC2: inventory.Success(nil)},
	}

	for name, data := range inputs {
		for kind, q := range questions {
			t.Run(name+"/"+string(kind), func(t *testing.T) {
				res := Route(q, data)
				assert.Equal(t, kind, res.Type)
				for _, m := range res.Summary {
					assert.Zero(t, m.Value, m.Key)
				}
				assert.NotEqual(t, NotDisplayable, Format(res))
			})
		}
	}
}

func TestRoute_Idempotent(t *testing.T) {
	data := fixture(t)
	for kind, q := range questions {
		t.Run(string(kind), func(t *testing.T) {
			first := Route(q, data)
			second := Route(q, data)
			assert.Equal(t, first, second)
			assert.Equal(t, Format(first), Format(second))
		})
	}
}

var summaryLine = regexp.MustCompile(`^- \*\*(.+?):\*\* (\d+)(?: \w+)?$`)

// parseSummary reads the counts back from the summary section of Format.
func parseSummary(t *testing.T, text string) map[string]int {
	t.Helper()
	out := map[string]int{}
	inSummary := false
	for _, l := range strings.Split(text, "\n") {
		if l == "## Summary" {
			inSummary = true
			continue
		}
		if !inSummary {
			continue
		}
		if m := summaryLine.FindStringSubmatch(l); m != nil {
			n, err := strconv.Atoi(m[2])
			require.NoError(t, err)
			out[m[1]] = n
		}
	}
	return out
}

func TestFormat_SummaryRoundTrip(t *testing.T) {
	data := fixture(t)
	for kind, q := range questions {
		t.Run(string(kind), func(t *testing.T) {
			res := Route(q, data)
			require.Equal(t, kind, res.Type)

			parsed := parseSummary(t, Format(res))

			require.Len(t, parsed, len(res.Summary))
			for _, m := range res.Summary {
				assert.Equal(t, m.Value, parsed[m.Label], m.Key)
			}
		})
	}
}

func TestFormat_ShowsPayloadFields(t *testing.T) {
	data := fixture(t)

	out := Format(Route("show running ec2 with security groups", data))
	assert.Contains(t, out, "## Instance: i-1 (t3.micro)")
	assert.Contains(t, out, "**Subnet:** subnet-1")
	assert.Contains(t, out, "- web (sg-1)")

	out = Format(Route("security group usage", data))
	assert.Contains(t, out, "- EC2 Instance: i-1 - t3.micro (running)")
	assert.Contains(t, out, "- **db** (sg-2) - database")

	out = Format(Route("compliance", data))
	assert.Less(t, strings.Index(out, "## HIGH Severity Issues"), strings.Index(out, "## MEDIUM Severity Issues"))
	assert.Contains(t, out, "**Recommendation:** Restrict source IP ranges")

	out = Format(Route("cost", data))
	assert.Contains(t, out, "- **Total Storage:** 180 GB")

	out = Format(Route("relationships", data))
	assert.Contains(t, out, "## LOCATED_IN Relationships")
	assert.Contains(t, out, "- EC2 Instance `i-1` → VPC `vpc-1`")
}

func TestSummary_MarshalJSONKeepsOrder(t *testing.T) {
	s := Summary{
		{Key: "zeta", Value: 1},
		{Key: "alpha", Value: 2},
	}

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":2}`, string(out))
}
