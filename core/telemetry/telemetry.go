package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/flowstudio/authz/core/rebac"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the telemetry configuration.
type Config struct {
	// ServiceName is the name of the service (e.g., "flowstudio-authz").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production").
	Environment string

	// OTLPEndpoint is the OTLP exporter endpoint for traces.
	// Leave empty to disable trace export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	// Enabled determines if telemetry is active.
	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "flowstudio-authz",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages OpenTelemetry tracer and meter providers and records the
// permission engine's metrics.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	checkCounter  metric.Int64Counter
	grantCounter  metric.Int64Counter
	revokeCounter metric.Int64Counter
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	checkDuration metric.Float64Histogram
}

// NewProvider creates a new telemetry provider. A disabled provider records
// nothing and hands out the global no-op tracer.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg}

	// Create resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(res); err != nil {
		return nil, err
	}
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	if p.config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SamplingRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(res),
	}

	// Add OTLP exporter if configured
	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)

	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)

	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	p.registry = promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.meter = p.meterProvider.Meter(p.config.ServiceName)

	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.checkCounter, err = p.meter.Int64Counter(
		"flowstudio.authz.checks",
		metric.WithDescription("Total number of permission checks"),
	)
	if err != nil {
		return err
	}

	p.grantCounter, err = p.meter.Int64Counter(
		"flowstudio.authz.grants",
		metric.WithDescription("Total number of grant attempts"),
	)
	if err != nil {
		return err
	}

	p.revokeCounter, err = p.meter.Int64Counter(
		"flowstudio.authz.revokes",
		metric.WithDescription("Total number of revoke attempts"),
	)
	if err != nil {
		return err
	}

	p.cacheHits, err = p.meter.Int64Counter(
		"flowstudio.authz.cache.hits",
		metric.WithDescription("Decision cache hits"),
	)
	if err != nil {
		return err
	}

	p.cacheMisses, err = p.meter.Int64Counter(
		"flowstudio.authz.cache.misses",
		metric.WithDescription("Decision cache misses"),
	)
	if err != nil {
		return err
	}

	p.checkDuration, err = p.meter.Float64Histogram(
		"flowstudio.authz.check.duration",
		metric.WithDescription("Permission check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the telemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer instance.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

// Meter returns the meter instance.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(p.config.ServiceName)
	}
	return p.meter
}

// MetricsHandler serves the Prometheus scrape endpoint. A disabled provider
// serves 404.
func (p *Provider) MetricsHandler() http.Handler {
	if p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ---- Metric Recording Methods ----

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordCheck records a permission check and its latency.
func (p *Provider) RecordCheck(ctx context.Context, ns rebac.Namespace, rel rebac.Relation, allowed bool, d time.Duration) {
	if p.checkCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace", string(ns)),
		attribute.String("relation", string(rel)),
		attribute.String("result", outcome(allowed, "allow", "deny")),
	)
	p.checkCounter.Add(ctx, 1, attrs)
	p.checkDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("namespace", string(ns)),
	))
}

// RecordWrite records a write attempt. Revokes go to the revoke counter;
// grants, transfers and bootstraps to the grant counter, told apart by the
// operation attribute.
func (p *Provider) RecordWrite(ctx context.Context, op string, ns rebac.Namespace, rel rebac.Relation, success bool) {
	counter := p.grantCounter
	if op == "revoke" {
		counter = p.revokeCounter
	}
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("namespace", string(ns)),
		attribute.String("relation", string(rel)),
		attribute.String("status", outcome(success, "success", "denied")),
	))
}

// RecordCache records a decision cache lookup.
func (p *Provider) RecordCache(ctx context.Context, hit bool) {
	counter := p.cacheMisses
	if hit {
		counter = p.cacheHits
	}
	if counter == nil {
		return
	}
	counter.Add(ctx, 1)
}

var _ rebac.Metrics = (*Provider)(nil)
