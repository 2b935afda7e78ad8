// Package aws implements the AWS inventory provider for skyquery.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// Config holds AWS provider configuration.
type Config struct {
	Region string
}

// clients bundles the service clients of one credential profile
// (interfaces for testability).
type clients struct {
	ec2         EC2API
	s3          S3API
	lambda      LambdaAPI
	iam         IAMAPI
	rds         RDSAPI
	dynamodb    DynamoDBAPI
	ecs         ECSAPI
	eks         EKSAPI
	elb         ELBAPI
	route53     Route53API
	cwLogs      CloudWatchLogsAPI
	sqs         SQSAPI
	kms         KMSAPI
	ecr         ECRAPI
	autoscaling AutoScalingAPI
	redshift    RedshiftAPI
	memorydb    MemoryDBAPI
	cloudtrail  CloudTrailAPI
	sts         STSAPI
}

// Provider implements provider.ResourceProvider and provider.ProfileResolver
// for AWS.
type Provider struct {
	region string

	mu      sync.Mutex
	clients map[string]*clients
	newFn   func(ctx context.Context, profile string) (*clients, error)

	// configFiles are the shared config/credentials files read by ListProfiles.
	configFiles []string
}

// New creates a new AWS provider. Clients are built lazily per profile.
func New(cfg Config) *Provider {
	p := &Provider{
		region:      cfg.Region,
		clients:     make(map[string]*clients),
		configFiles: defaultConfigFiles(),
	}
	p.newFn = p.buildClients
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "aws"
}

// Region returns the configured region.
func (p *Provider) Region() string {
	return p.region
}

// LoadConfig resolves an aws.Config for the region and profile.
// The "default" profile and "" both use the default credential chain.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" && profile != "default" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func (p *Provider) buildClients(ctx context.Context, profile string) (*clients, error) {
	awsCfg, err := LoadConfig(ctx, p.region, profile)
	if err != nil {
		return nil, err
	}

	return &clients{
		ec2:         ec2.NewFromConfig(awsCfg),
		s3:          s3.NewFromConfig(awsCfg),
		lambda:      lambda.NewFromConfig(awsCfg),
		iam:         iam.NewFromConfig(awsCfg),
		rds:         rds.NewFromConfig(awsCfg),
		dynamodb:    dynamodb.NewFromConfig(awsCfg),
		ecs:         ecs.NewFromConfig(awsCfg),
		eks:         eks.NewFromConfig(awsCfg),
		elb:         elasticloadbalancingv2.NewFromConfig(awsCfg),
		route53:     route53.NewFromConfig(awsCfg),
		cwLogs:      cloudwatchlogs.NewFromConfig(awsCfg),
		sqs:         sqs.NewFromConfig(awsCfg),
		kms:         kms.NewFromConfig(awsCfg),
		ecr:         ecr.NewFromConfig(awsCfg),
		autoscaling: autoscaling.NewFromConfig(awsCfg),
		redshift:    redshift.NewFromConfig(awsCfg),
		memorydb:    memorydb.NewFromConfig(awsCfg),
		cloudtrail:  cloudtrail.NewFromConfig(awsCfg),
		sts:         sts.NewFromConfig(awsCfg),
	}, nil
}

func (p *Provider) clientsFor(ctx context.Context, profile string) (*clients, error) {
	if profile == "default" {
		profile = ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[profile]; ok {
		return c, nil
	}
	c, err := p.newFn(ctx, profile)
	if err != nil {
		return nil, err
	}
	p.clients[profile] = c
	return c, nil
}

type fetcher func(context.Context, *clients) (map[inventory.Subtype][]inventory.Record, error)

func fetchers() map[inventory.Category]fetcher {
	return map[inventory.Category]fetcher{
		inventory.EC2:         fetchEC2,
		inventory.S3:          fetchS3,
		inventory.Lambda:      fetchLambda,
		inventory.IAM:         fetchIAM,
		inventory.RDS:         fetchRDS,
		inventory.DynamoDB:    fetchDynamoDB,
		inventory.ECS:         fetchECS,
		inventory.EKS:         fetchEKS,
		inventory.ELB:         fetchELB,
		inventory.Route53:     fetchRoute53,
		inventory.CloudWatch:  fetchCloudWatch,
		inventory.SQS:         fetchSQS,
		inventory.KMS:         fetchKMS,
		inventory.ECR:         fetchECR,
		inventory.AutoScaling: fetchAutoScaling,
		inventory.Redshift:    fetchRedshift,
		inventory.MemoryDB:    fetchMemoryDB,
		inventory.CloudTrail:  fetchCloudTrail,
	}
}

// Fetch collects every subtype of a category.
func (p *Provider) Fetch(ctx context.Context, category inventory.Category, profile string) (map[inventory.Subtype][]inventory.Record, error) {
	fn, ok := fetchers()[category]
	if !ok {
		return nil, fmt.Errorf("unsupported category %q", category)
	}

	c, err := p.clientsFor(ctx, profile)
	if err != nil {
		return nil, err
	}

	data, err := fn(ctx, c)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("category", string(category)).Str("profile", profile).Msg("fetch complete")
	return data, nil
}

// toRecords converts SDK structs into open records. Field names follow the
// SDK shapes; time values become RFC 3339 strings.
func toRecords[T any](items []T) ([]inventory.Record, error) {
	if len(items) == 0 {
		return []inventory.Record{}, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	var out []inventory.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}
