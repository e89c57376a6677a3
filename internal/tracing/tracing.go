// Package tracing sets up OpenTelemetry tracing around Store, Dispatcher,
// and Transport operations. Grounded in notifyhub's TelemetryProvider
// (observability/telemetry.go): an OTLP/HTTP exporter feeding a batch
// span processor, reduced to tracing only since spec.md's metrics are
// already served by the prometheus-backed internal/metrics registry.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the tracer and its shutdown path.
type Provider struct {
	tp     *sdktrace.TracerProvider
	Tracer trace.Tracer
}

// NewProvider configures tracing against endpoint. An empty endpoint
// yields a no-op tracer, since tracing is ambient infrastructure and the
// gateway must run without a collector present.
func NewProvider(ctx context.Context, endpoint string) (*Provider, error) {
	if endpoint == "" {
		return &Provider{Tracer: otel.Tracer("smsgateway")}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("smsgateway"),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, Tracer: tp.Tracer("smsgateway")}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartSpan is a small convenience wrapper used by the Store/Dispatcher/
// Transport call sites this package instruments.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name)
}
