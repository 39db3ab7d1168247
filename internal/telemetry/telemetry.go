// Package telemetry wires the global OpenTelemetry tracer and meter
// providers against an OTLP/HTTP collector endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceBatchTimeout  = 5 * time.Second
	metricPushInterval = 15 * time.Second
)

// Shutdown flushes and stops the configured providers.
type Shutdown func(ctx context.Context) error

// Init installs the global tracer and meter providers. An empty endpoint
// disables export entirely and the returned Shutdown is a no-op, so
// callers never need to branch on whether telemetry is configured.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, endpoint, insecure, res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	// W3C trace context + baggage, so incoming traceparent headers are
	// honored and outgoing calls (embedding/completion APIs) carry the
	// active span.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	mp, err := newMeterProvider(ctx, endpoint, insecure, res)
	if err != nil {
		if shutdownErr := tp.Shutdown(ctx); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
		return nil, err
	}
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newTracerProvider(ctx context.Context, endpoint string, insecure bool, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(traceBatchTimeout)),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, endpoint string, insecure bool, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricPushInterval))),
		sdkmetric.WithResource(res),
	), nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
