// Package classifier selects the inventory categories a question needs.
package classifier

import (
	"strings"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// DefaultCategories is returned when no keyword matches.
var DefaultCategories = []inventory.Category{inventory.EC2, inventory.S3, inventory.Lambda}

type association struct {
	keyword    string
	categories []inventory.Category
}

// keywords is evaluated by containment against the lowercased question.
var keywords = []association{
	{"ec2", cats(inventory.EC2)},
	{"instance", cats(inventory.EC2)},
	{"security group", cats(inventory.EC2)},
	{"vpc", cats(inventory.EC2)},
	{"subnet", cats(inventory.EC2)},
	{"volume", cats(inventory.EC2)},
	{"ebs", cats(inventory.EC2)},
	{"public ip", cats(inventory.EC2)},
	{"compliance", cats(inventory.EC2)},
	{"cost", cats(inventory.EC2)},
	{"unused", cats(inventory.EC2)},
	{"idle", cats(inventory.EC2)},
	{"s3", cats(inventory.S3)},
	{"bucket", cats(inventory.S3)},
	{"lambda", cats(inventory.Lambda)},
	{"function", cats(inventory.Lambda)},
	{"serverless", cats(inventory.Lambda)},
	{"iam", cats(inventory.IAM)},
	{"user", cats(inventory.IAM)},
	{"role", cats(inventory.IAM)},
	{"policy", cats(inventory.IAM)},
	{"rds", cats(inventory.RDS)},
	{"database", cats(inventory.RDS)},
	{"aurora", cats(inventory.RDS)},
	{"postgres", cats(inventory.RDS)},
	{"mysql", cats(inventory.RDS)},
	{"dynamodb", cats(inventory.DynamoDB)},
	{"table", cats(inventory.DynamoDB)},
	{"ecs", cats(inventory.ECS)},
	{"cluster", cats(inventory.ECS)},
	{"service", cats(inventory.ECS)},
	{"container", cats(inventory.ECS)},
	{"eks", cats(inventory.EKS)},
	{"kubernetes", cats(inventory.EKS)},
	{"k8s", cats(inventory.EKS)},
	{"load balancer", cats(inventory.ELB)},
	{"elb", cats(inventory.ELB)},
	{"alb", cats(inventory.ELB)},
	{"target group", cats(inventory.ELB)},
	{"route53", cats(inventory.Route53)},
	{"route 53", cats(inventory.Route53)},
	{"dns", cats(inventory.Route53)},
	{"hosted zone", cats(inventory.Route53)},
	{"cloudwatch", cats(inventory.CloudWatch)},
	{"alarm", cats(inventory.CloudWatch)},
	{"log group", cats(inventory.CloudWatch)},
	{"sqs", cats(inventory.SQS)},
	{"queue", cats(inventory.SQS)},
	{"kms", cats(inventory.KMS)},
	{"encryption key", cats(inventory.KMS)},
	{"ecr", cats(inventory.ECR)},
	{"container registry", cats(inventory.ECR)},
	{"repository", cats(inventory.ECR)},
	{"autoscaling", cats(inventory.AutoScaling)},
	{"auto scaling", cats(inventory.AutoScaling)},
	{"redshift", cats(inventory.Redshift)},
	{"warehouse", cats(inventory.Redshift)},
	{"memorydb", cats(inventory.MemoryDB)},
	{"redis", cats(inventory.MemoryDB)},
	{"cloudtrail", cats(inventory.CloudTrail)},
	{"audit trail", cats(inventory.CloudTrail)},
	{"everything", inventory.All()},
	{"all resources", inventory.All()},
	{"all services", inventory.All()},
	{"full inventory", inventory.All()},
}

func cats(c ...inventory.Category) []inventory.Category {
	return c
}

// Classify returns the categories relevant to question, in canonical order.
// It never returns an empty set.
func Classify(question string) []inventory.Category {
	q := strings.ToLower(question)

	var matched []inventory.Category
	for _, a := range keywords {
		if strings.Contains(q, a.keyword) {
			matched = append(matched, a.categories...)
		}
	}

	if len(matched) == 0 {
		return append([]inventory.Category(nil), DefaultCategories...)
	}
	return inventory.Sorted(matched)
}

// Keywords returns the keyword table as keyword → categories, for display.
func Keywords() map[string][]inventory.Category {
	out := make(map[string][]inventory.Category, len(keywords))
	for _, a := range keywords {
		out[a.keyword] = append([]inventory.Category(nil), a.categories...)
	}
	return out
}
