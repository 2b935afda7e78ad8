package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/skyquery/internal/filter"
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// fakeProvider returns canned data per category and records call order.
type fakeProvider struct {
	data  map[inventory.Category]map[inventory.Subtype][]inventory.Record
	errs  map[inventory.Category]error
	panic inventory.Category
	calls []inventory.Category
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(_ context.Context, c inventory.Category, _ string) (map[inventory.Subtype][]inventory.Record, error) {
	f.calls = append(f.calls, c)
	if c == f.panic {
		panic("boom")
	}
	if err := f.errs[c]; err != nil {
		return nil, err
	}
	return f.data[c], nil
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	errors map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}, errors: map[string]int{}}
}

func (m *recordingMetrics) RecordCollectDuration(context.Context, string, time.Duration) {}

func (m *recordingMetrics) RecordRecordCount(_ context.Context, category string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[category] += count
}

func (m *recordingMetrics) RecordCollectError(_ context.Context, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[category]++
}

func ec2Data() map[inventory.Subtype][]inventory.Record {
	return map[inventory.Subtype][]inventory.Record{
		inventory.Instances: {{
			"ReservationId": "r-1",
			"Instances": []any{map[string]any{
				"InstanceId": "i-1",
				"LaunchTime": time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
			}},
		}},
		inventory.VPCs: {{"VpcId": "vpc-1"}},
	}
}

func TestCollect_KeysAreKnownSubset(t *testing.T) {
	p := &fakeProvider{data: map[inventory.Category]map[inventory.Subtype][]inventory.Record{
		inventory.EC2: ec2Data(),
	}}
	c := New(p)

	set := c.Collect(context.Background(), []inventory.Category{"Bogus", inventory.S3, inventory.EC2, inventory.EC2}, "")

	assert.ElementsMatch(t, []inventory.Category{inventory.EC2, inventory.S3}, set.Categories())
	assert.Equal(t, []inventory.Category{inventory.EC2, inventory.S3}, p.calls)
	assert.True(t, set[inventory.S3].OK())
}

func TestCollect_FaultIsolation(t *testing.T) {
	p := &fakeProvider{
		data: map[inventory.Category]map[inventory.Subtype][]inventory.Record{inventory.EC2: ec2Data()},
		errs: map[inventory.Category]error{inventory.IAM: errors.New("AccessDenied: not authorized")},
	}
	metrics := newRecordingMetrics()
	c := New(p, WithMetrics(metrics))

	set := c.Collect(context.Background(), []inventory.Category{inventory.IAM, inventory.EC2}, "dev")

	require.False(t, set[inventory.IAM].OK())
	assert.Equal(t, "AccessDenied: not authorized", set[inventory.IAM].Err)
	require.True(t, set[inventory.EC2].OK())
	assert.Len(t, set.Records(inventory.EC2, inventory.VPCs), 1)
	assert.Equal(t, 1, metrics.errors["IAM"])
	assert.Equal(t, 2, metrics.counts["EC2"])
}

func TestCollect_PanicIsIsolated(t *testing.T) {
	p := &fakeProvider{
		data:  map[inventory.Category]map[inventory.Subtype][]inventory.Record{inventory.EC2: ec2Data()},
		panic: inventory.Lambda,
	}
	set := New(p).Collect(context.Background(), []inventory.Category{inventory.EC2, inventory.Lambda}, "")

	assert.True(t, set[inventory.EC2].OK())
	assert.False(t, set[inventory.Lambda].OK())
	assert.Contains(t, set[inventory.Lambda].Err, "boom")
}

func TestCollect_NormalizesTimes(t *testing.T) {
	p := &fakeProvider{data: map[inventory.Category]map[inventory.Subtype][]inventory.Record{
		inventory.EC2: ec2Data(),
	}}
	set := New(p).Collect(context.Background(), []inventory.Category{inventory.EC2}, "")

	inst := set.Records(inventory.EC2, inventory.Instances)[0].Records("Instances")[0]
	assert.Equal(t, "2024-05-06T07:08:09Z", inst.Str("LaunchTime"))
}

func TestCollect_ExcludedCategory(t *testing.T) {
	p := &fakeProvider{}
	c := New(p, WithFilter(filter.New([]string{"IAM"}, nil, nil)))

	set := c.Collect(context.Background(), []inventory.Category{inventory.IAM, inventory.S3}, "")

	assert.Equal(t, ErrExcluded.Error(), set[inventory.IAM].Err)
	assert.Equal(t, []inventory.Category{inventory.S3}, p.calls)
}

func TestCollect_TagFilter(t *testing.T) {
	p := &fakeProvider{data: map[inventory.Category]map[inventory.Subtype][]inventory.Record{
		inventory.EC2: {inventory.Volumes: {
			{"VolumeId": "vol-1", "Tags": []any{map[string]any{"Key": "env", "Value": "prod"}}},
			{"VolumeId": "vol-2"},
		}},
	}}
	c := New(p, WithFilter(filter.New(nil, map[string]string{"env": "prod"}, nil)))

	set := c.Collect(context.Background(), []inventory.Category{inventory.EC2}, "")
	vols := set.Records(inventory.EC2, inventory.Volumes)
	require.Len(t, vols, 1)
	assert.Equal(t, "vol-1", vols[0].Str("VolumeId"))
}

func TestCollect_CancelledContext(t *testing.T) {
	p := &fakeProvider{}
	c := New(p, WithRateLimit(0.001, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set := c.Collect(ctx, []inventory.Category{inventory.EC2, inventory.S3}, "")
	assert.False(t, set[inventory.EC2].OK())
	assert.False(t, set[inventory.S3].OK())
	assert.Empty(t, p.calls)
}
