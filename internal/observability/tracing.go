// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package observability

import (
	"context"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingOptions configures the OTLP/HTTP exporter.
type TracingOptions struct {
	Enabled     bool
	ServiceName string
	Version     string
	Endpoint    string // host:port of the collector
	Insecure    bool
	SampleRate  float64
}

// ShutdownFunc flushes and stops tracing.
type ShutdownFunc func(context.Context) error

// SetupTracing installs a global TracerProvider exporting to opts.Endpoint and
// the W3C trace-context propagator. When tracing is disabled only the
// propagator is installed and the returned shutdown does nothing.
func SetupTracing(ctx context.Context, opts TracingOptions) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, oops.Code("TRACING_SETUP_FAILED").With("endpoint", opts.Endpoint).Wrap(err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.Version),
	))
	if err != nil {
		return nil, oops.Code("TRACING_SETUP_FAILED").With("operation", "build resource").Wrap(err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRate))),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return oops.Code("TRACING_SHUTDOWN_FAILED").Wrap(err)
		}
		return nil
	}, nil
}
