// Package telemetry provides OpenTelemetry instrumentation for skyquery.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/skyquery/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	prometheus     bool

	// Metrics
	collectDuration  metric.Float64Histogram
	collectRecords   metric.Int64Counter
	collectErrors    metric.Int64Counter
	queries          metric.Int64Counter
	modelInvocations metric.Int64Counter
	contextTokens    metric.Int64Histogram
}

// Option configures a Provider.
type Option func(*Provider)

// WithPrometheusExporter registers the OTEL Prometheus reader so metrics can
// be scraped from the default prometheus registry.
func WithPrometheusExporter() Option {
	return func(p *Provider) {
		p.prometheus = true
	}
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("skyquery")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if p.prometheus {
		promExporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(promExporter))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("skyquery")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.collectDuration, err = p.meter.Float64Histogram(
		"skyquery_collect_duration_seconds",
		metric.WithDescription("Duration of per-category collection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create collect_duration: %w", err)
	}

	p.collectRecords, err = p.meter.Int64Counter(
		"skyquery_collect_records_total",
		metric.WithDescription("Total records collected"),
	)
	if err != nil {
		return fmt.Errorf("create collect_records: %w", err)
	}

	p.collectErrors, err = p.meter.Int64Counter(
		"skyquery_collect_errors_total",
		metric.WithDescription("Total category collection failures"),
	)
	if err != nil {
		return fmt.Errorf("create collect_errors: %w", err)
	}

	p.queries, err = p.meter.Int64Counter(
		"skyquery_query_total",
		metric.WithDescription("Questions handled, by route"),
	)
	if err != nil {
		return fmt.Errorf("create query_total: %w", err)
	}

	p.modelInvocations, err = p.meter.Int64Counter(
		"skyquery_model_invocations_total",
		metric.WithDescription("Model invocations, by family and outcome"),
	)
	if err != nil {
		return fmt.Errorf("create model_invocations: %w", err)
	}

	p.contextTokens, err = p.meter.Int64Histogram(
		"skyquery_context_tokens",
		metric.WithDescription("Estimated tokens of context sent to the model"),
	)
	if err != nil {
		return fmt.Errorf("create context_tokens: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordCollectDuration records how long one category took to collect.
func (p *Provider) RecordCollectDuration(ctx context.Context, category string, d time.Duration) {
	p.collectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordRecordCount records the number of records collected for a category.
func (p *Provider) RecordRecordCount(ctx context.Context, category string, count int) {
	p.collectRecords.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordCollectError records a failed category.
func (p *Provider) RecordCollectError(ctx context.Context, category string) {
	p.collectErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordQuery records a handled question and the route it took.
func (p *Provider) RecordQuery(ctx context.Context, route string) {
	p.queries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
	))
}

// RecordModelInvocation records one model call.
func (p *Provider) RecordModelInvocation(ctx context.Context, family, outcome string) {
	p.modelInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", family),
		attribute.String("outcome", outcome),
	))
}

// RecordContextTokens records the estimated size of a model context.
func (p *Provider) RecordContextTokens(ctx context.Context, tokens int) {
	p.contextTokens.Record(ctx, int64(tokens))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
