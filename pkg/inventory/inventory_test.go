package inventory

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSorted_CanonicalOrderAndUnknownDropped(t *testing.T) {
	got := Sorted([]Category{Lambda, "Nope", EC2, S3, EC2})
	assert.Equal(t, []Category{EC2, S3, Lambda}, got)
}

func TestParse(t *testing.T) {
	c, ok := Parse(" dynamodb ")
	require.True(t, ok)
	assert.Equal(t, DynamoDB, c)

	_, ok = Parse("CloudFormation")
	assert.False(t, ok)
}

func TestSubtypes(t *testing.T) {
	assert.Equal(t, []Subtype{Instances, SecurityGroups, VPCs, Subnets, Volumes}, EC2.Subtypes())
	assert.Empty(t, Category("Unknown").Subtypes())
}

func TestResult_JSON(t *testing.T) {
	set := RawResourceSet{
		EC2: Success(map[Subtype][]Record{VPCs: {{"VpcId": "vpc-1"}}}),
		IAM: Failure(errors.New("AccessDenied")),
	}

	b, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"EC2":{"vpcs":[{"VpcId":"vpc-1"}]},"IAM":{"error":"AccessDenied"}}`, string(b))

	var back RawResourceSet
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back[EC2].OK())
	assert.Equal(t, "vpc-1", back.Records(EC2, VPCs)[0].Str("VpcId"))
	assert.Equal(t, "AccessDenied", back[IAM].Err)
	assert.Equal(t, []Category{IAM}, back.Failed())
}

func TestFailure_EmptyMessage(t *testing.T) {
	r := Failure(errors.New(""))
	assert.False(t, r.OK())
	assert.NotEmpty(t, r.Err)
}

func TestRecords_MissingIsNil(t *testing.T) {
	set := RawResourceSet{IAM: Failure(errors.New("boom"))}
	assert.Nil(t, set.Records(EC2, Instances))
	assert.Nil(t, set.Records(IAM, Users))
}

func TestNormalize_Times(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		"LaunchTime": ts,
		"Nested":     map[string]any{"When": &ts},
		"List":       []any{ts, "x"},
	}
	Normalize(rec)

	assert.Equal(t, "2024-03-01T12:00:00Z", rec["LaunchTime"])
	assert.Equal(t, "2024-03-01T12:00:00Z", rec.Map("Nested")["When"])
	assert.Equal(t, []any{"2024-03-01T12:00:00Z", "x"}, rec["List"])

	_, err := json.Marshal(rec)
	require.NoError(t, err)
}

func TestDocuments(t *testing.T) {
	set := RawResourceSet{
		S3:  Success(map[Subtype][]Record{Buckets: {{"Name": "logs"}}}),
		EC2: Success(nil),
	}
	docs := set.Documents()
	require.Len(t, docs, 2)
	assert.True(t, strings.HasPrefix(docs[0], "AWS EC2 Information:\n"))
	assert.True(t, strings.HasPrefix(docs[1], "AWS S3 Information:\n"))
	assert.Contains(t, docs[1], `"Name": "logs"`)
}

func TestRecordAccessors(t *testing.T) {
	var decoded Record
	require.NoError(t, json.Unmarshal([]byte(`{
		"Size": 100,
		"State": {"Name": "running"},
		"Tags": [{"Key": "env", "Value": "prod"}, {"Value": "orphan"}],
		"SecurityGroups": [{"GroupId": "sg-1"}, "junk"],
		"Names": ["a", 1]
	}`), &decoded))

	assert.Equal(t, 100, decoded.Int("Size"))
	assert.Equal(t, "100", decoded.Str("Size"))
	assert.Equal(t, "running", decoded.Path("State", "Name"))
	assert.Equal(t, "", decoded.Path("Placement", "AvailabilityZone"))
	assert.Equal(t, map[string]string{"env": "prod"}, decoded.Tags("Tags"))
	assert.Len(t, decoded.Records("SecurityGroups"), 1)
	assert.Equal(t, []string{"a"}, decoded.Strings("Names"))
	assert.Equal(t, "n/a", decoded.StrOr("Missing", "n/a"))
	assert.False(t, decoded.Bool("Missing"))
}

func TestDiff(t *testing.T) {
	prev := RawResourceSet{
		EC2: Success(map[Subtype][]Record{
			Volumes: {{"VolumeId": "vol-1", "Size": 8.0}, {"VolumeId": "vol-2"}},
		}),
		IAM: Failure(errors.New("denied")),
	}
	cur := RawResourceSet{
		EC2: Success(map[Subtype][]Record{
			Volumes: {{"VolumeId": "vol-1", "Size": 16.0}, {"VolumeId": "vol-3"}},
		}),
		IAM: Success(map[Subtype][]Record{Users: {{"UserName": "bob"}}}),
	}

	diffs := Diff(prev, cur)
	assert.Equal(t, []RecordDiff{
		{Type: DiffAdded, Category: EC2, Subtype: Volumes, ID: "vol-3"},
		{Type: DiffDeleted, Category: EC2, Subtype: Volumes, ID: "vol-2"},
		{Type: DiffModified, Category: EC2, Subtype: Volumes, ID: "vol-1"},
	}, diffs)
}

func TestDiff_SubnetsInOneVPCStayDistinct(t *testing.T) {
	prev := RawResourceSet{
		EC2: Success(map[Subtype][]Record{
			Subnets: {{"SubnetId": "subnet-a", "VpcId": "vpc-1"}},
		}),
	}
	cur := RawResourceSet{
		EC2: Success(map[Subtype][]Record{
			Subnets: {
				{"SubnetId": "subnet-a", "VpcId": "vpc-1"},
				{"SubnetId": "subnet-b", "VpcId": "vpc-1"},
			},
		}),
	}

	assert.Equal(t, []RecordDiff{
		{Type: DiffAdded, Category: EC2, Subtype: Subnets, ID: "subnet-b"},
	}, Diff(prev, cur))
}

func TestRecordKey_OwnIdentifierBeforeVPC(t *testing.T) {
	tests := []struct {
		sub  Subtype
		rec  Record
		want string
	}{
		{Subnets, Record{"VpcId": "vpc-1", "SubnetId": "subnet-a"}, "subnet-a"},
		{LoadBalancers, Record{"VpcId": "vpc-1", "LoadBalancerArn": "arn:lb/1"}, "arn:lb/1"},
		{TargetGroups, Record{"VpcId": "vpc-1", "TargetGroupArn": "arn:tg/1", "TargetGroupName": "web"}, "arn:tg/1"},
		{Clusters, Record{"VpcId": "vpc-1", "ClusterIdentifier": "warehouse"}, "warehouse"},
		{Instances, Record{"ReservationId": "r-1", "Instances": []any{}}, "r-1"},
		{Instances, Record{"InstanceId": "i-1", "VpcId": "vpc-1", "ReservationId": "r-1"}, "i-1"},
		{VPCs, Record{"VpcId": "vpc-1", "OwnerId": "123"}, "vpc-1"},
		{Buckets, Record{"Other": "x"}, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.sub)+"/"+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, RecordKey(tt.sub, tt.rec))
		})
	}
}
