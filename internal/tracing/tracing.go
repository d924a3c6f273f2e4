// Package tracing wires an OpenTelemetry TracerProvider (SPEC_FULL.md
// DOMAIN STACK expansion): spans around transport-client handshake/send,
// dispatch-hub decode/fanout, and DB insert, so a trace shows one
// record's path end to end. Optional and config-gated: when disabled,
// Tracer returns a no-op tracer and every span helper is a cheap no-op,
// the same "feature behind a config flag" idiom the teacher uses for
// deduplication/backpressure/degradation.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the exporter; mirrors internal/config.TracingConfig
// without importing it, keeping this package dependency-free of the
// config package (it is constructed once in internal/serverapp and
// internal/collectorapp wiring).
type Config struct {
	Enabled  bool
	Exporter string // "jaeger" | "otlphttp"
	Endpoint string
}

// Provider wraps an sdktrace.TracerProvider, or nil when tracing is
// disabled — every method on a nil *Provider is a safe no-op.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds a Provider from cfg. A disabled config returns a non-nil
// Provider wrapping otel's global no-op tracer, never an error.
func New(serviceName string, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := buildExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Provider{tp: tp}, nil
}

func buildExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "otlphttp":
		return otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(cfg.Endpoint))
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns a named tracer, falling back to otel's global no-op
// tracer when tracing is disabled or Provider is nil.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes and stops the underlying TracerProvider; a no-op
// when tracing was never enabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
