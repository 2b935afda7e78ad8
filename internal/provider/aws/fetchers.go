package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

type subtypeData = map[inventory.Subtype][]inventory.Record

// collect runs each subtype lister in order and stops at the first error.
func collect(listers ...func() (inventory.Subtype, []inventory.Record, error)) (subtypeData, error) {
	data := make(subtypeData, len(listers))
	for _, l := range listers {
		sub, recs, err := l()
		if err != nil {
			return nil, err
		}
		data[sub] = recs
	}
	return data, nil
}

func fetchEC2(ctx context.Context, c *clients) (subtypeData, error) {
	return collect(
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listReservations(ctx, c.ec2)
			return inventory.Instances, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listSecurityGroups(ctx, c.ec2)
			return inventory.SecurityGroups, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listVPCs(ctx, c.ec2)
			return inventory.VPCs, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listSubnets(ctx, c.ec2)
			return inventory.Subnets, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listVolumes(ctx, c.ec2)
			return inventory.Volumes, recs, err
		},
	)
}

// listReservations keeps the reservation shape; instances live under
// each reservation's "Instances" key.
func listReservations(ctx context.Context, client EC2API) ([]inventory.Record, error) {
	var all []ec2types.Reservation
	var nextToken *string

	for {
		output, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		all = append(all, output.Reservations...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return toRecords(all)
}

func listSecurityGroups(ctx context.Context, client EC2API) ([]inventory.Record, error) {
	var all []ec2types.SecurityGroup
	var nextToken *string

	for {
		output, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}
		all = append(all, output.SecurityGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return toRecords(all)
}

func listVPCs(ctx context.Context, client EC2API) ([]inventory.Record, error) {
	var all []ec2types.Vpc
	var nextToken *string

	for {
		output, err := client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe vpcs: %w", err)
		}
		all = append(all, output.Vpcs...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return toRecords(all)
}

func listSubnets(ctx context.Context, client EC2API) ([]inventory.Record, error) {
	var all []ec2types.Subnet
	var nextToken *string

	for {
		output, err := client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe subnets: %w", err)
		}
		all = append(all, output.Subnets...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return toRecords(all)
}

func listVolumes(ctx context.Context, client EC2API) ([]inventory.Record, error) {
	var all []ec2types.Volume
	var nextToken *string

	for {
		output, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}
		all = append(all, output.Volumes...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return toRecords(all)
}

func fetchS3(ctx context.Context, c *clients) (subtypeData, error) {
	output, err := c.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	recs, err := toRecords(output.Buckets)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		rec["Region"] = bucketRegion(ctx, c.s3, rec.Str("Name"))
	}
	return subtypeData{inventory.Buckets: recs}, nil
}

// bucketRegion returns the bucket's region; an empty location constraint
// means us-east-1. Lookup failures are not fatal for the category.
func bucketRegion(ctx context.Context, client S3API, bucket string) string {
	output, err := client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err != nil {
		return "unknown"
	}
	if output.LocationConstraint == "" {
		return "us-east-1"
	}
	return string(output.LocationConstraint)
}

func fetchLambda(ctx context.Context, c *clients) (subtypeData, error) {
	var all []lambdatypes.FunctionConfiguration
	var marker *string

	for {
		output, err := c.lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}
		all = append(all, output.Functions...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Functions: recs}, nil
}

func fetchIAM(ctx context.Context, c *clients) (subtypeData, error) {
	return collect(
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listUsers(ctx, c.iam)
			return inventory.Users, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listRoles(ctx, c.iam)
			return inventory.Roles, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listLocalPolicies(ctx, c.iam)
			return inventory.Policies, recs, err
		},
	)
}

func listUsers(ctx context.Context, client IAMAPI) ([]inventory.Record, error) {
	var all []iamtypes.User
	var marker *string

	for {
		output, err := client.ListUsers(ctx, &iam.ListUsersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		all = append(all, output.Users...)

		if !output.IsTruncated || output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return toRecords(all)
}

func listRoles(ctx context.Context, client IAMAPI) ([]inventory.Record, error) {
	var all []iamtypes.Role
	var marker *string

	for {
		output, err := client.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		all = append(all, output.Roles...)

		if !output.IsTruncated || output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return toRecords(all)
}

func listLocalPolicies(ctx context.Context, client IAMAPI) ([]inventory.Record, error) {
	var all []iamtypes.Policy
	var marker *string

	for {
		output, err := client.ListPolicies(ctx, &iam.ListPoliciesInput{
			Scope:  iamtypes.PolicyScopeTypeLocal,
			Marker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}
		all = append(all, output.Policies...)

		if !output.IsTruncated || output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return toRecords(all)
}

func fetchRDS(ctx context.Context, c *clients) (subtypeData, error) {
	return collect(
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listDBInstances(ctx, c.rds)
			return inventory.DBInstances, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listDBClusters(ctx, c.rds)
			return inventory.DBClusters, recs, err
		},
	)
}

func listDBInstances(ctx context.Context, client RDSAPI) ([]inventory.Record, error) {
	var all []rdstypes.DBInstance
	var marker *string

	for {
		output, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}
		all = append(all, output.DBInstances...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return toRecords(all)
}

func listDBClusters(ctx context.Context, client RDSAPI) ([]inventory.Record, error) {
	var all []rdstypes.DBCluster
	var marker *string

	for {
		output, err := client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db clusters: %w", err)
		}
		all = append(all, output.DBClusters...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return toRecords(all)
}

func fetchDynamoDB(ctx context.Context, c *clients) (subtypeData, error) {
	var names []string
	var start *string

	for {
		output, err := c.dynamodb.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, output.TableNames...)

		if output.LastEvaluatedTableName == nil {
			break
		}
		start = output.LastEvaluatedTableName
	}

	tables := make([]ddbtypes.TableDescription, 0, len(names))
	for _, name := range names {
		output, err := c.dynamodb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			return nil, fmt.Errorf("describe table %s: %w", name, err)
		}
		if output.Table != nil {
			tables = append(tables, *output.Table)
		}
	}

	recs, err := toRecords(tables)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Tables: recs}, nil
}

func fetchECS(ctx context.Context, c *clients) (subtypeData, error) {
	var arns []string
	var nextToken *string

	for {
		output, err := c.ecs.ListClusters(ctx, &ecs.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list ecs clusters: %w", err)
		}
		arns = append(arns, output.ClusterArns...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var clusters []ecstypes.Cluster
	// DescribeClusters accepts at most 100 clusters per call.
	for i := 0; i < len(arns); i += 100 {
		end := min(i+100, len(arns))
		output, err := c.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: arns[i:end]})
		if err != nil {
			return nil, fmt.Errorf("describe ecs clusters: %w", err)
		}
		clusters = append(clusters, output.Clusters...)
	}

	recs, err := toRecords(clusters)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Clusters: recs}, nil
}

func fetchEKS(ctx context.Context, c *clients) (subtypeData, error) {
	var names []string
	var nextToken *string

	for {
		output, err := c.eks.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list eks clusters: %w", err)
		}
		names = append(names, output.Clusters...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	clusters := make([]ekstypes.Cluster, 0, len(names))
	for _, name := range names {
		output, err := c.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
		if err != nil {
			return nil, fmt.Errorf("describe eks cluster %s: %w", name, err)
		}
		if output.Cluster != nil {
			clusters = append(clusters, *output.Cluster)
		}
	}

	recs, err := toRecords(clusters)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Clusters: recs}, nil
}

func fetchELB(ctx context.Context, c *clients) (subtypeData, error) {
	return collect(
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listLoadBalancers(ctx, c.elb)
			return inventory.LoadBalancers, recs, err
		},
		func() (inventory.Subtype, []inventory.Record, error) {
			recs, err := listTargetGroups(ctx, c.elb)
			return inventory.TargetGroups, recs, err
		},
	)
}

func listLoadBalancers(ctx context.Context, client ELBAPI) ([]inventory.Record, error) {
	var all []elbtypes.LoadBalancer
	var marker *string

	for {
		output, err := client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}
		all = append(all, output.LoadBalancers...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return toRecords(all)
}

func listTargetGroups(ctx context.Context, client ELBAPI) ([]inventory.Record, error) {
	var all []elbtypes.TargetGroup
	var marker *string

	for {
		output, err := client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe target groups: %w", err)
		}
		all = append(all, output.TargetGroups...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return toRecords(all)
}

func fetchRoute53(ctx context.Context, c *clients) (subtypeData, error) {
	var all []r53types.HostedZone
	var marker *string

	for {
		output, err := c.route53.ListHostedZones(ctx, &route53.ListHostedZonesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list hosted zones: %w", err)
		}
		all = append(all, output.HostedZones...)

		if !output.IsTruncated || output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.HostedZones: recs}, nil
}

func fetchCloudWatch(ctx context.Context, c *clients) (subtypeData, error) {
	var all []cwltypes.LogGroup
	var nextToken *string

	for {
		output, err := c.cwLogs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe log groups: %w", err)
		}
		all = append(all, output.LogGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.LogGroups: recs}, nil
}

func fetchSQS(ctx context.Context, c *clients) (subtypeData, error) {
	var recs []inventory.Record
	var nextToken *string

	for {
		output, err := c.sqs.ListQueues(ctx, &sqs.ListQueuesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list queues: %w", err)
		}
		for _, url := range output.QueueUrls {
			recs = append(recs, inventory.Record{
				"QueueUrl":  url,
				"QueueName": queueName(url),
			})
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	if recs == nil {
		recs = []inventory.Record{}
	}
	return subtypeData{inventory.Queues: recs}, nil
}

func queueName(queueURL string) string {
	if i := strings.LastIndex(queueURL, "/"); i >= 0 {
		return queueURL[i+1:]
	}
	return queueURL
}

func fetchKMS(ctx context.Context, c *clients) (subtypeData, error) {
	var all []kmstypes.KeyListEntry
	var marker *string

	for {
		output, err := c.kms.ListKeys(ctx, &kms.ListKeysInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		all = append(all, output.Keys...)

		if !output.Truncated || output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Keys: recs}, nil
}

func fetchECR(ctx context.Context, c *clients) (subtypeData, error) {
	var all []ecrtypes.Repository
	var nextToken *string

	for {
		output, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe repositories: %w", err)
		}
		all = append(all, output.Repositories...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Repositories: recs}, nil
}

func fetchAutoScaling(ctx context.Context, c *clients) (subtypeData, error) {
	var all []asgtypes.AutoScalingGroup
	var nextToken *string

	for {
		output, err := c.autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe auto scaling groups: %w", err)
		}
		all = append(all, output.AutoScalingGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Groups: recs}, nil
}

func fetchRedshift(ctx context.Context, c *clients) (subtypeData, error) {
	var all []redshifttypes.Cluster
	var marker *string

	for {
		output, err := c.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe redshift clusters: %w", err)
		}
		all = append(all, output.Clusters...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Clusters: recs}, nil
}

func fetchMemoryDB(ctx context.Context, c *clients) (subtypeData, error) {
	var all []memorydbtypes.Cluster
	var nextToken *string

	for {
		output, err := c.memorydb.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe memorydb clusters: %w", err)
		}
		all = append(all, output.Clusters...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	recs, err := toRecords(all)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Clusters: recs}, nil
}

func fetchCloudTrail(ctx context.Context, c *clients) (subtypeData, error) {
	output, err := c.cloudtrail.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return nil, fmt.Errorf("describe trails: %w", err)
	}

	recs, err := toRecords(output.TrailList)
	if err != nil {
		return nil, err
	}
	return subtypeData{inventory.Trails: recs}, nil
}
