// Package collector gathers raw inventory from a resource provider, one
// category at a time.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/yairfalse/skyquery/internal/filter"
	"github.com/yairfalse/skyquery/internal/provider"
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// ErrExcluded marks a category skipped by configuration.
var ErrExcluded = errors.New("category excluded by configuration")

// Metrics receives per-category collection measurements.
type Metrics interface {
	RecordCollectDuration(ctx context.Context, category string, d time.Duration)
	RecordRecordCount(ctx context.Context, category string, count int)
	RecordCollectError(ctx context.Context, category string)
}

// Collector fetches categories sequentially through a provider.
type Collector struct {
	provider provider.ResourceProvider
	limiter  *rate.Limiter
	metrics  Metrics
	filter   *filter.Filter
}

// Option configures a Collector.
type Option func(*Collector)

// WithRateLimit paces provider calls to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Collector) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records collection metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithFilter applies category exclusion and tag filters.
func WithFilter(f *filter.Filter) Option {
	return func(c *Collector) {
		c.filter = f
	}
}

// New creates a collector for p.
func New(p provider.ResourceProvider, opts ...Option) *Collector {
	c := &Collector{
		provider: p,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fetches every known category in cats using profile. The result is
// keyed exactly by the known members of cats; unknown names are dropped.
// A failing category is recorded as a failure and never stops the others.
func (c *Collector) Collect(ctx context.Context, cats []inventory.Category, profile string) inventory.RawResourceSet {
	set := make(inventory.RawResourceSet, len(cats))

	for _, cat := range inventory.Sorted(cats) {
		set[cat] = c.collectOne(ctx, cat, profile)
	}

	log.Info().
		Str("profile", profile).
		Int("categories", len(set)).
		Int("failed", len(set.Failed())).
		Msg("collection complete")
	return set
}

func (c *Collector) collectOne(ctx context.Context, cat inventory.Category, profile string) (res inventory.Result) {
	if !c.filter.ShouldCollect(cat) {
		return inventory.Failure(ErrExcluded)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = inventory.Failure(fmt.Errorf("provider panic: %v", r))
		}
		c.observe(ctx, cat, time.Since(start), res)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return inventory.Failure(fmt.Errorf("rate limiter wait failed: %w", err))
	}

	data, err := c.provider.Fetch(ctx, cat, profile)
	if err != nil {
		logFetchError(cat, err)
		return inventory.Failure(err)
	}

	for sub, recs := range data {
		data[sub] = c.filter.FilterRecords(sub, recs)
	}
	return inventory.NormalizeResult(inventory.Success(data))
}

func (c *Collector) observe(ctx context.Context, cat inventory.Category, d time.Duration, res inventory.Result) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCollectDuration(ctx, string(cat), d)
	if !res.OK() {
		c.metrics.RecordCollectError(ctx, string(cat))
		return
	}
	c.metrics.RecordRecordCount(ctx, string(cat), res.Count())
}

func logFetchError(cat inventory.Category, err error) {
	event := log.Warn().Err(err).Str("category", string(cat))
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		event = event.Str("code", apiErr.ErrorCode())
	}
	event.Msg("category collection failed")
}
