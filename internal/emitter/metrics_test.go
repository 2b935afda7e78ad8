package emitter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

func instanceSet(states map[string]string) inventory.RawResourceSet {
	instances := make([]inventory.Record, 0, len(states))
	for id, state := range states {
		instances = append(instances, inventory.Record{"InstanceId": id, "State": state})
	}
	return inventory.RawResourceSet{
		inventory.EC2: inventory.Success(map[inventory.Subtype][]inventory.Record{
			inventory.Instances: instances,
		}),
		inventory.IAM: inventory.Failure(errors.New("AccessDenied")),
	}
}

func newTestEmitter(t *testing.T) (*MetricsEmitter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e, err := NewMetricsEmitter(provider.Meter("test"))
	require.NoError(t, err)
	return e, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestMetricsEmitter_ObservesRecords(t *testing.T) {
	e, reader := newTestEmitter(t)

	err := e.Emit(context.Background(), Snapshot{
		Profile: "default",
		Region:  "us-east-1",
		Set:     instanceSet(map[string]string{"i-1": "running", "i-2": "stopped"}),
	})
	require.NoError(t, err)

	metrics := collect(t, reader)

	records, ok := metrics["skyquery_inventory_records"]
	require.True(t, ok)
	gauge, ok := records.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "expected gauge, got %T", records.Data)
	require.Len(t, gauge.DataPoints, 1)
	dp := gauge.DataPoints[0]
	assert.Equal(t, int64(2), dp.Value)
	assert.Equal(t, "EC2", attr(dp.Attributes, "category"))
	assert.Equal(t, "instances", attr(dp.Attributes, "subtype"))
	assert.Equal(t, "default", attr(dp.Attributes, "profile"))

	up, ok := metrics["skyquery_inventory_category_up"]
	require.True(t, ok)
	upGauge := up.Data.(metricdata.Gauge[int64])
	values := map[string]int64{}
	for _, dp := range upGauge.DataPoints {
		values[attr(dp.Attributes, "category")] = dp.Value
	}
	assert.Equal(t, map[string]int64{"EC2": 1, "IAM": 0}, values)

	_, ok = metrics["skyquery_inventory_changes_total"]
	assert.False(t, ok, "first collection is a baseline")
}

func TestMetricsEmitter_CountsChanges(t *testing.T) {
	e, reader := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Snapshot{
		Set: instanceSet(map[string]string{"i-1": "running", "i-2": "running"}),
	}))
	require.NoError(t, e.Emit(ctx, Snapshot{
		Set: instanceSet(map[string]string{"i-1": "stopped", "i-3": "running"}),
	}))

	metrics := collect(t, reader)
	changes, ok := metrics["skyquery_inventory_changes_total"]
	require.True(t, ok)

	sum, ok := changes.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected sum, got %T", changes.Data)

	byType := map[string]int64{}
	for _, dp := range sum.DataPoints {
		byType[attr(dp.Attributes, "change_type")] += dp.Value
	}
	assert.Equal(t, map[string]int64{"added": 1, "deleted": 1, "modified": 1}, byType)
}

func TestLogEmitter(t *testing.T) {
	var e Emitter = LogEmitter{}
	require.NoError(t, e.Emit(context.Background(), Snapshot{
		Revision: 1,
		Set:      instanceSet(map[string]string{"i-1": "running"}),
	}))
	require.NoError(t, e.Close())
}
