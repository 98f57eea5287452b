package runnable

import (
	"context"
	"os"
	"runtime"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/xerrors"
)

// telemetry owns the process-wide profiler, tracer and meter providers.
type telemetry struct {
	profiler       *pyroscope.Profiler
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
}

// Rendering is mutex and allocation heavy, so those profiles are collected
// alongside CPU.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockDuration,
}

func startTelemetry(ctx context.Context) (*telemetry, error) {
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: applicationName,
		ServerAddress:   os.Getenv("PYROSCOPE_ENDPOINT"),
		UploadRate:      EnvOrDefaultValue("PYROSCOPE_UPLOAD_RATE", time.Minute),
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to start profiler: %w", err)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	resource, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(applicationName)),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to describe service resource: %w", err)
	}

	spanExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to create span exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource),
		sdktrace.WithBatcher(spanExporter),
	)
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(tracerProvider))

	// Histograms keep exemplars through the Prometheus bridge; gauges would not.
	reader, err := otelprometheus.New()
	if err != nil {
		return nil, xerrors.Errorf("failed to create prometheus reader: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(meterProvider)

	return &telemetry{
		profiler:       profiler,
		tracerProvider: tracerProvider,
		meter:          meterProvider.Meter(applicationName),
	}, nil
}

func (t *telemetry) shutdown(ctx context.Context) error {
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to flush spans: %w", err)
	}
	if err := t.profiler.Stop(); err != nil {
		return xerrors.Errorf("failed to stop profiler: %w", err)
	}
	return nil
}
