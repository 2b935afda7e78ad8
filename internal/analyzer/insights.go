package analyzer

import (
	"fmt"
	"strings"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// NoRecommendations is the single entry returned when no heuristic fires.
const NoRecommendations = "No specific recommendations available"

// highMemoryMB is the Lambda memory size above which allocation is flagged.
const highMemoryMB = 1024

// Insight is a one-line summary of a collected resource plus heuristic
// recommendations for it.
type Insight struct {
	Category        inventory.Category `json:"category"`
	Subtype         inventory.Subtype  `json:"subtype"`
	ID              string             `json:"id"`
	Summary         string             `json:"summary"`
	Recommendations []string           `json:"recommendations"`
}

// Insights walks every successfully collected record in canonical order.
// EC2 reservations are expanded into their instances.
func Insights(data inventory.RawResourceSet) []Insight {
	var out []Insight
	for _, c := range data.Categories() {
		for _, sub := range c.Subtypes() {
			recs := data.Records(c, sub)
			if c == inventory.EC2 && sub == inventory.Instances {
				recs = ec2Instances(data)
			}
			for _, rec := range recs {
				out = append(out, Insight{
					Category:        c,
					Subtype:         sub,
					ID:              inventory.RecordKey(sub, rec),
					Summary:         Summarize(sub, rec),
					Recommendations: Recommend(sub, rec),
				})
			}
		}
	}
	return out
}

// Summarize returns a concise description of one record.
func Summarize(sub inventory.Subtype, r inventory.Record) string {
	switch sub {
	case inventory.Instances:
		return fmt.Sprintf("EC2 Instance: %s (%s) - %s",
			r.StrOr("InstanceId", unknown), r.StrOr("InstanceType", unknown), instanceState(r))
	case inventory.SecurityGroups:
		return fmt.Sprintf("Security Group: %s (%s) in VPC %s",
			r.StrOr("GroupName", unknown), r.StrOr("GroupId", unknown), r.StrOr("VpcId", unknown))
	case inventory.Buckets:
		return fmt.Sprintf("S3 Bucket: %s (created: %s)", r.StrOr("Name", unknown), r.StrOr("CreationDate", unknown))
	case inventory.Functions:
		return fmt.Sprintf("Lambda Function: %s (%s) - %sMB",
			r.StrOr("FunctionName", unknown), r.StrOr("Runtime", unknown), r.StrOr("MemorySize", unknown))
	case inventory.Volumes:
		return fmt.Sprintf("EBS Volume: %s (%s) - %sGB - %s",
			r.StrOr("VolumeId", unknown), r.StrOr("VolumeType", unknown), r.StrOr("Size", unknown), r.StrOr("State", unknown))
	case inventory.VPCs:
		return fmt.Sprintf("VPC: %s (%s) - %s", r.StrOr("VpcId", unknown), r.StrOr("CidrBlock", unknown), r.StrOr("State", unknown))
	case inventory.Users:
		return fmt.Sprintf("IAM User: %s (created: %s)", r.StrOr("UserName", unknown), r.StrOr("CreateDate", unknown))
	case inventory.Roles:
		return fmt.Sprintf("IAM Role: %s (created: %s)", r.StrOr("RoleName", unknown), r.StrOr("CreateDate", unknown))
	}

	if name := r.Str("Name"); name != "" {
		return fmt.Sprintf("%s: %s", sub, name)
	}
	if id := r.Str("Id"); id != "" {
		return fmt.Sprintf("%s: %s", sub, id)
	}
	if key := inventory.RecordKey(sub, r); key != "" {
		return fmt.Sprintf("%s: %s", sub, key)
	}
	return fmt.Sprintf("%s: Resource", sub)
}

// Recommend returns heuristic advice for one record. The result is never
// empty.
func Recommend(sub inventory.Subtype, r inventory.Record) []string {
	var recs []string
	switch sub {
	case inventory.Instances:
		switch instanceState(r) {
		case "running":
			recs = append(recs, "Instance is running")
		case "stopped":
			recs = append(recs, "Instance is stopped, consider terminating if not needed")
		}
		if r.Str("PublicIpAddress") != "" {
			recs = append(recs, "Instance has a public IP, review its security groups")
		}
	case inventory.SecurityGroups:
		for i := 0; i < openRules(r); i++ {
			recs = append(recs, "Security group allows access from anywhere (0.0.0.0/0)")
		}
	case inventory.Volumes:
		if r.StrOr("State", "") == "available" {
			recs = append(recs, "Volume is not attached to any instance")
		}
		if r.Has("Encrypted") && !r.Bool("Encrypted") {
			recs = append(recs, "Volume is not encrypted")
		}
	case inventory.Buckets:
		recs = append(recs, "Check bucket policies and ACLs", "Verify encryption settings")
	case inventory.Functions:
		if mem := r.Int("MemorySize"); mem > highMemoryMB {
			recs = append(recs, fmt.Sprintf("High memory allocation (%dMB), consider optimization", mem))
		}
		if strings.HasPrefix(r.Str("Runtime"), "python2") {
			recs = append(recs, "Using deprecated Python 2 runtime")
		}
	}
	if len(recs) == 0 {
		return []string{NoRecommendations}
	}
	return recs
}
