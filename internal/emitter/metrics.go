package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// MetricsEmitter publishes inventory gauges and change counters through an
// OTEL meter, which the Prometheus exporter serves in shell mode.
type MetricsEmitter struct {
	meter metric.Meter

	inventoryRecords metric.Int64ObservableGauge
	categoryUp       metric.Int64ObservableGauge
	changesTotal     metric.Int64Counter

	// State for the observable gauges
	mu      sync.RWMutex
	current inventory.RawResourceSet
	profile string
	region  string
}

// NewMetricsEmitter registers the inventory instruments on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{meter: meter}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.inventoryRecords, err = e.meter.Int64ObservableGauge(
		"skyquery_inventory_records",
		metric.WithDescription("Records in the latest collection, by category and subtype"),
		metric.WithInt64Callback(e.observeRecords),
	)
	if err != nil {
		return fmt.Errorf("create inventory_records gauge: %w", err)
	}

	e.categoryUp, err = e.meter.Int64ObservableGauge(
		"skyquery_inventory_category_up",
		metric.WithDescription("1 when the category was collected, 0 when collection failed"),
		metric.WithInt64Callback(e.observeCategories),
	)
	if err != nil {
		return fmt.Errorf("create inventory_category_up gauge: %w", err)
	}

	e.changesTotal, err = e.meter.Int64Counter(
		"skyquery_inventory_changes_total",
		metric.WithDescription("Record changes detected between collections"),
	)
	if err != nil {
		return fmt.Errorf("create inventory_changes counter: %w", err)
	}

	return nil
}

// Emit makes snap the observed inventory and counts the changes against the
// previous one. The first snapshot only establishes a baseline.
func (e *MetricsEmitter) Emit(ctx context.Context, snap Snapshot) error {
	e.mu.Lock()
	prev := e.current
	e.current = snap.Set
	e.profile = snap.Profile
	e.region = snap.Region
	e.mu.Unlock()

	if prev == nil {
		return nil
	}

	for _, d := range inventory.Diff(prev, snap.Set) {
		e.changesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(d.Category)),
			attribute.String("subtype", string(d.Subtype)),
			attribute.String("change_type", string(d.Type)),
		))
		log.Debug().
			Str("category", string(d.Category)).
			Str("subtype", string(d.Subtype)).
			Str("id", d.ID).
			Str("change", string(d.Type)).
			Msg("resource changed")
	}
	return nil
}

func (e *MetricsEmitter) baseAttrs(c inventory.Category) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("category", string(c)),
		attribute.String("profile", e.profile),
		attribute.String("region", e.region),
	}
}

// observeRecords is the callback for the inventory_records gauge.
func (e *MetricsEmitter) observeRecords(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.current.Categories() {
		res := e.current[c]
		if !res.OK() {
			continue
		}
		for _, sub := range c.Subtypes() {
			recs, ok := res.Data[sub]
			if !ok {
				continue
			}
			attrs := append(e.baseAttrs(c), attribute.String("subtype", string(sub)))
			o.Observe(int64(len(recs)), metric.WithAttributes(attrs...))
		}
	}
	return nil
}

// observeCategories is the callback for the inventory_category_up gauge.
func (e *MetricsEmitter) observeCategories(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.current.Categories() {
		var up int64
		if e.current[c].OK() {
			up = 1
		}
		o.Observe(up, metric.WithAttributes(e.baseAttrs(c)...))
	}
	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}

// LogEmitter logs a one-line summary per collection.
type LogEmitter struct{}

// Emit implements Emitter.
func (LogEmitter) Emit(_ context.Context, snap Snapshot) error {
	ev := log.Info().
		Int64("revision", snap.Revision).
		Str("profile", snap.Profile).
		Str("region", snap.Region).
		Dur("duration", snap.Duration)
	for _, c := range snap.Set.Categories() {
		res := snap.Set[c]
		if res.OK() {
			ev = ev.Int(string(c), res.Count())
		} else {
			ev = ev.Str(string(c), "error")
		}
	}
	ev.Msg("collection complete")
	return nil
}

// Close is a no-op.
func (LogEmitter) Close() error {
	return nil
}
