// Package observability provides logging, Prometheus metrics, and
// OpenTelemetry tracing for the engine.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmeterx/st-engine/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// SetupTracing wires the OTLP trace exporter when an endpoint is configured.
// Only the engine process traces (DB round-trips via otelpgx and the metrics
// listener); loadrunner subprocesses never trace so the load-generation hot
// path stays clean. Returns a shutdown func, or nil when tracing is disabled.
func SetupTracing(cfg config.Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		slog.Info("OTLP endpoint not set; tracing disabled")
		return nil, nil
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Engines run one per host, so the hostname identifies the instance.
	host, _ := os.Hostname()
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.OTELServiceName),
		semconv.DeploymentEnvironment(cfg.AppEnv),
		semconv.HostName(host),
	))
	if err != nil {
		return nil, err
	}

	// Poller spans repeat every few seconds for the lifetime of the worker;
	// prod keeps a quarter of them, everywhere else keeps all.
	ratio := 1.0
	if cfg.IsProd() {
		ratio = 0.25
	}
	slog.Info("tracing configured",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.String("host", host),
		slog.Float64("sampling_ratio", ratio))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
