package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// QueryType names a structured query template.
type QueryType string

// Query types in detection priority order, plus General for no match.
const (
	EC2WithSecurityGroups QueryType = "ec2_with_security_groups"
	SecurityGroupUsage    QueryType = "security_group_usage"
	VPCResources          QueryType = "vpc_resources"
	InstanceDetails       QueryType = "instance_details"
	CostAnalysis          QueryType = "cost_analysis"
	ComplianceCheck       QueryType = "compliance_check"
	ResourceRelationships QueryType = "resource_relationships"
	UnusedResources       QueryType = "unused_resources"
	General               QueryType = "general"
)

// NotRecognized is the message carried by a General result.
const NotRecognized = "Query not recognized as complex structured query"

// Result is the outcome of routing a question. General results carry no
// data and tell the caller to fall through to the model path.
type Result struct {
	Type    QueryType `json:"type"`
	Data    any       `json:"data"`
	Summary Summary   `json:"summary,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Structured reports whether an analyzer handled the question.
func (r Result) Structured() bool {
	return r.Type != General && r.Type != ""
}

// Metric is one summary count. Label is the text shown by the formatter.
type Metric struct {
	Key   string
	Label string
	Value int
	Unit  string
}

// Summary is an ordered set of counts.
type Summary []Metric

// Value returns the count stored under key.
func (s Summary) Value(key string) (int, bool) {
	for _, m := range s {
		if m.Key == key {
			return m.Value, true
		}
	}
	return 0, false
}

// Map returns the counts keyed by metric key.
func (s Summary) Map() map[string]int {
	out := make(map[string]int, len(s))
	for _, m := range s {
		out[m.Key] = m.Value
	}
	return out
}

// MarshalJSON writes the summary as an object in metric order.
func (s Summary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal summary key: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(m.Value))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Severity grades a compliance finding.
type Severity string

// Severities, most severe first.
const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

var severityOrder = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// SecurityGroupRef identifies a security group attached to an instance.
type SecurityGroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// String renders "name (id)".
func (r SecurityGroupRef) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.ID)
}

// InstanceSecurityGroups is one instance row of the EC2 with security
// groups analysis.
type InstanceSecurityGroups struct {
	InstanceID     string             `json:"instance_id"`
	InstanceType   string             `json:"instance_type"`
	State          string             `json:"state"`
	SecurityGroups []SecurityGroupRef `json:"security_groups"`
	PublicIP       string             `json:"public_ip"`
	PrivateIP      string             `json:"private_ip"`
	VpcID          string             `json:"vpc_id"`
	SubnetID       string             `json:"subnet_id"`
}

// EC2SecurityGroups is the payload of EC2WithSecurityGroups.
type EC2SecurityGroups struct {
	Instances            []InstanceSecurityGroups `json:"instances"`
	UniqueSecurityGroups []string                 `json:"unique_security_groups"`
}

// SecurityGroupInfo describes one security group of the account.
type SecurityGroupInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	VpcID       string `json:"vpc_id"`
	RulesCount  int    `json:"rules_count"`
}

// SecurityGroupUse is one resource referencing a security group.
type SecurityGroupUse struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	ResourceDetails string `json:"resource_details"`
}

// SecurityGroupUsageData is the payload of SecurityGroupUsage.
type SecurityGroupUsageData struct {
	UsageMap          map[string][]SecurityGroupUse `json:"usage_map"`
	AllSecurityGroups map[string]SecurityGroupInfo  `json:"all_security_groups"`
	Unused            []SecurityGroupInfo           `json:"unused_security_groups"`
}

// VPCInfo holds the attributes of a VPC record.
type VPCInfo struct {
	CidrBlock string `json:"cidr_block"`
	State     string `json:"state"`
	IsDefault bool   `json:"is_default"`
}

// VPCInstance is an instance placed in a VPC.
type VPCInstance struct {
	InstanceID   string `json:"instance_id"`
	InstanceType string `json:"instance_type"`
	State        string `json:"state"`
	SubnetID     string `json:"subnet_id"`
}

// VPCSubnet is a subnet of a VPC.
type VPCSubnet struct {
	SubnetID         string `json:"subnet_id"`
	CidrBlock        string `json:"cidr_block"`
	AvailabilityZone string `json:"availability_zone"`
	AvailableIPCount int    `json:"available_ip_count"`
}

// VPCSecurityGroup is a security group defined in a VPC.
type VPCSecurityGroup struct {
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
	Description string `json:"description"`
}

// VPCResourceGroup collects everything found for one VPC id. VPCInfo is
// nil when resources reference a VPC that was not listed.
type VPCResourceGroup struct {
	VPCInfo        *VPCInfo           `json:"vpc_info,omitempty"`
	Instances      []VPCInstance      `json:"instances"`
	Subnets        []VPCSubnet        `json:"subnets"`
	SecurityGroups []VPCSecurityGroup `json:"security_groups"`
}

// VPCResourceData is the payload of VPCResources, keyed by VPC id.
type VPCResourceData map[string]*VPCResourceGroup

// InstanceDetail is the full field dump of one instance.
type InstanceDetail struct {
	InstanceID       string             `json:"instance_id"`
	InstanceType     string             `json:"instance_type"`
	State            string             `json:"state"`
	LaunchTime       string             `json:"launch_time"`
	PublicIP         string             `json:"public_ip"`
	PrivateIP        string             `json:"private_ip"`
	VpcID            string             `json:"vpc_id"`
	SubnetID         string             `json:"subnet_id"`
	AvailabilityZone string             `json:"availability_zone"`
	KeyName          string             `json:"key_name"`
	SecurityGroups   []SecurityGroupRef `json:"security_groups"`
	Tags             map[string]string  `json:"tags"`
	Monitoring       string             `json:"monitoring"`
	Platform         string             `json:"platform"`
}

// InstanceCost is the cost view of one instance.
type InstanceCost struct {
	InstanceID        string `json:"instance_id"`
	InstanceType      string `json:"instance_type"`
	State             string `json:"state"`
	CostTier          string `json:"cost_tier"`
	PublicIP          string `json:"public_ip"`
	RunningCostImpact string `json:"running_cost_impact"`
}

// VolumeCost is the cost view of one volume.
type VolumeCost struct {
	VolumeID   string `json:"volume_id"`
	VolumeType string `json:"volume_type"`
	SizeGB     int    `json:"size_gb"`
	State      string `json:"state"`
	CostImpact string `json:"cost_impact"`
}

// CostData is the payload of CostAnalysis.
type CostData struct {
	EC2Instances   []InstanceCost `json:"ec2_instances"`
	StorageVolumes []VolumeCost   `json:"storage_volumes"`
}

// ComplianceIssue is one heuristic finding.
type ComplianceIssue struct {
	ResourceType   string   `json:"resource_type"`
	ResourceID     string   `json:"resource_id"`
	Issue          string   `json:"issue"`
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
}

// Relationship is a directed edge between two resources.
type Relationship struct {
	SourceType       string `json:"source_type"`
	SourceID         string `json:"source_id"`
	TargetType       string `json:"target_type"`
	TargetID         string `json:"target_id"`
	RelationshipType string `json:"relationship_type"`
}

// UnusedResource is a resource that looks idle.
type UnusedResource struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Issue           string `json:"issue"`
	PotentialSaving string `json:"potential_saving"`
	LastActivity    string `json:"last_activity,omitempty"`
	VolumeType      string `json:"volume_type,omitempty"`
}
