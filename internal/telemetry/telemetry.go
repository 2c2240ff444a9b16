// Package telemetry sets up tracing for a pipeline invocation. Every step
// the runner visits becomes a span under one invocation span.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "relpipe"

// Options configures Setup.
type Options struct {
	// Endpoint is an OTLP/HTTP collector URL. Spans are only exported when
	// it is set.
	Endpoint    string
	ServiceName string
	// Processors observe spans locally, e.g. to render progress.
	Processors []sdktrace.SpanProcessor
}

// Provider owns the tracer provider of the process.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup builds the tracer provider.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	name := strings.TrimSpace(opts.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	res := resource.NewSchemaless(semconv.ServiceName(name))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	for _, p := range opts.Processors {
		if p != nil {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
		}
	}
	return &Provider{tp: sdktrace.NewTracerProvider(tpOpts...)}, nil
}

func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
