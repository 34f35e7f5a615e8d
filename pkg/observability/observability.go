// Package observability provides ambient OpenTelemetry instrumentation
// for the runtime: an in-process tracer and meter wrapping every
// resolve/execute call, wholly separate from TRACE's own hash-chained
// event/span model (§4.5 DOMAIN STACK, §7). Export adapters (OTLP and
// otherwise) are out of core scope per SPEC_FULL.md — the SDK
// providers here run locally with no configured exporter, so spans and
// metrics are created and sampled but never shipped anywhere; wiring
// an exporter is a deployment concern left to the embedding service.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the ambient OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64 // 0.0 to 1.0, default 1.0
	Enabled        bool    // false is the no-op default so tests never need a collector
}

// DefaultConfig returns the no-op-by-default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "atlas-runtime",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
		Enabled:        false,
	}
}

// Provider owns the tracer/meter used for ambient instrumentation.
type Provider struct {
	config *Config
	logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	resolutionCounter metric.Int64Counter
	errorCounter      metric.Int64Counter
	durationHist      metric.Float64Histogram
	activeOperations  metric.Int64UpDownCounter
}

// New builds a Provider. When config.Enabled is false, every method is
// a safe no-op — callers do not need to branch on whether
// observability is configured.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{config: config, logger: slog.Default().With("component", "observability")}
	if !config.Enabled {
		p.tracer = otel.Tracer(config.ServiceName)
		p.meter = otel.Meter(config.ServiceName)
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer(config.ServiceName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(config.ServiceName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized", "service", config.ServiceName, "sample_rate", config.SampleRate)
	return p, nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.resolutionCounter, err = p.meter.Int64Counter("atlas_runtime.resolutions.total",
		metric.WithDescription("Total resolve/execute calls processed"), metric.WithUnit("{call}"))
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("atlas_runtime.errors.total",
		metric.WithDescription("Total resolve/execute errors"), metric.WithUnit("{error}"))
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("atlas_runtime.call.duration",
		metric.WithDescription("resolve/execute duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0))
	if err != nil {
		return err
	}
	p.activeOperations, err = p.meter.Int64UpDownCounter("atlas_runtime.operations.active",
		metric.WithDescription("In-flight resolve/execute calls"), metric.WithUnit("{operation}"))
	return err
}

// Shutdown releases provider resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("observability: shutdown tracer provider: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("observability: shutdown meter provider: %w", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer (a real no-op tracer when disabled).
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// TrackOperation starts a span and active-operation gauge for name,
// returning a completion func to call with the operation's outcome
// (nil on success).
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))

	if p.activeOperations != nil {
		p.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.resolutionCounter != nil {
		p.resolutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		duration := time.Since(start)
		if p.activeOperations != nil {
			p.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				allAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
			}
		}
		span.End()
	}
}
