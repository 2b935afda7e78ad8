package classifier

import "github.com/yairfalse/skyquery/pkg/inventory"

var categoryExamples = map[inventory.Category][]string{
	inventory.EC2: {
		"Show me all running EC2 instances with their security groups",
		"Which security groups are not used by any instance?",
		"Group my resources by VPC",
	},
	inventory.S3:          {"List my S3 buckets and their regions"},
	inventory.Lambda:      {"Which Lambda functions use deprecated runtimes?"},
	inventory.IAM:         {"List IAM users and roles"},
	inventory.RDS:         {"Which RDS databases are publicly accessible?"},
	inventory.DynamoDB:    {"Show DynamoDB tables and their item counts"},
	inventory.ECS:         {"How many ECS clusters are running services?"},
	inventory.EKS:         {"Which Kubernetes version do my EKS clusters run?"},
	inventory.ELB:         {"List load balancers and their target groups"},
	inventory.Route53:     {"Show my Route53 hosted zones"},
	inventory.CloudWatch:  {"Which log groups have no retention policy?"},
	inventory.SQS:         {"List my SQS queues"},
	inventory.KMS:         {"How many KMS keys do I have?"},
	inventory.ECR:         {"Which ECR repositories have image scanning disabled?"},
	inventory.AutoScaling: {"Show auto scaling groups with their desired capacity"},
	inventory.Redshift:    {"List Redshift clusters and node types"},
	inventory.MemoryDB:    {"Show MemoryDB clusters"},
	inventory.CloudTrail:  {"Is CloudTrail logging enabled in every region?"},
}

// structuredExamples are answered without a language model.
var structuredExamples = []string{
	"Show running EC2 instances with security groups",
	"Security group usage",
	"Show resources by VPC",
	"Show instance details",
	"Cost analysis of my instances",
	"Run a compliance check",
	"Show resource relationships",
	"Find unused resources",
}

// Suggestions returns example questions for the given categories followed by
// the structured query examples. With no categories, the default set is used.
func Suggestions(categories []inventory.Category) []string {
	if len(categories) == 0 {
		categories = DefaultCategories
	}

	var out []string
	for _, c := range inventory.Sorted(categories) {
		out = append(out, categoryExamples[c]...)
	}
	return append(out, structuredExamples...)
}
