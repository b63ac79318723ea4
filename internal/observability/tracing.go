package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// TracingEnabled reports whether an OTLP endpoint is configured.
func TracingEnabled() bool {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
		os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != ""
}

// InitTracer installs a TracerProvider exporting over OTLP gRPC when an
// endpoint is configured. Without one the global no-op provider stays in
// place and the returned shutdown does nothing.
//
// DUALOGUE_ENV names the deployment environment (default "development") and
// DUALOGUE_TRACE_RATIO samples a fraction of new traces (default 1).
func InitTracer(ctx context.Context, serviceName, version string) (ShutdownFunc, error) {
	if !TracingEnabled() {
		return func(context.Context) error { return nil }, nil
	}

	ratio, err := sampleRatio(os.Getenv("DUALOGUE_TRACE_RATIO"))
	if err != nil {
		return nil, err
	}
	res, err := tracerResource(serviceName, version, os.Getenv("DUALOGUE_ENV"))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func tracerResource(serviceName, version, env string) (*resource.Resource, error) {
	if env == "" {
		env = "development"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironmentName(env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

// sampleRatio parses a sampling fraction in [0, 1]. Empty means 1.
func sampleRatio(s string) (float64, error) {
	if s == "" {
		return 1, nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r < 0 || r > 1 {
		return 0, fmt.Errorf("trace ratio %q: want a number between 0 and 1", s)
	}
	return r, nil
}
