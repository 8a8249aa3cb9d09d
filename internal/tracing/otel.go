// Package tracing initializes the broker's OTel tracer. Spans cover
// the two request paths: inbound command dispatch and the HTTP status
// API. Without OTEL_EXPORTER_OTLP_ENDPOINT in the environment every
// tracer is a no-op.
package tracing

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "drawbridge"

var (
	setupOnce sync.Once
	provider  trace.TracerProvider = noop.NewTracerProvider()
	sdkTP     *sdktrace.TracerProvider
)

// Tracer returns a named tracer, wiring the OTLP exporter on first
// use when an endpoint is configured.
func Tracer(name string) trace.Tracer {
	setupOnce.Do(setup)
	return provider.Tracer(name)
}

// Shutdown flushes pending spans. A no-op when tracing never started.
func Shutdown(ctx context.Context) error {
	if sdkTP == nil {
		return nil
	}
	return sdkTP.Shutdown(ctx)
}

func setup() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return
	}
	tp, err := newProvider(context.Background(), endpoint)
	if err != nil {
		return
	}
	sdkTP = tp
	provider = tp
	otel.SetTracerProvider(tp)
}

func newProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	// otlptracehttp wants host[:port], not a URL.
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
