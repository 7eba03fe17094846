package observability

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// TracerName is the instrumentation scope used by the service layer.
const TracerName = "github.com/PaulBabatuyi/FileVault"

// InitTracerProvider initializes OpenTelemetry tracing with a stdout exporter.
// When enabled is false spans are still created but never exported.
func InitTracerProvider(ctx context.Context, enabled bool, logger *zap.Logger) (*trace.TracerProvider, error) {
	var w io.Writer = io.Discard
	if enabled {
		w = os.Stdout
	}

	// Create stdout exporter for development (swap to an OTLP exporter for production)
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Error("failed to create trace exporter", zap.Error(err))
		return nil, err
	}

	opts := []trace.TracerProviderOption{trace.WithBatcher(exporter)}
	if !enabled {
		opts = append(opts, trace.WithSampler(trace.NeverSample()))
	}
	tp := trace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if err := tp.ForceFlush(ctx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}

	return tp, nil
}

// ShutdownTracerProvider gracefully shuts down the tracer provider
func ShutdownTracerProvider(ctx context.Context, tp *trace.TracerProvider, logger *zap.Logger) {
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer provider", zap.Error(err))
	}
}
