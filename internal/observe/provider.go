package observe

import (
	"context"
	"errors"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig describes the telemetry identity and export targets of one
// Auricle process.
type ProviderConfig struct {
	// ServiceName labels every exported metric and span. Default: "auricle".
	ServiceName string

	// ServiceVersion is attached alongside ServiceName, normally the build
	// version stamped into the binary.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in-process only,
	// which is all the transcription pipeline needs unless an OTLP backend is
	// configured.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider wires up the process-wide telemetry: a meter provider backed by
// the Prometheus bridge (the gateway serves the scrape output on /metrics) and
// a tracer provider that batches into cfg.TraceExporter when one is given.
// Both are installed as the OTel globals, so [DefaultMetrics], [Tracer], and
// the HTTP middleware all pick them up without further plumbing.
//
// The returned shutdown flushes and closes everything; defer it from main()
// with a short deadline so a wedged exporter cannot hold up process exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "auricle"
	}

	// Identity shared by both providers.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var shutdownFuncs []func(context.Context) error

	// Metrics go out through the Prometheus bridge rather than a push
	// exporter: the gateway already runs an HTTP server, so scraping is free.
	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

	// Spans are always recorded so CorrelationID works; they only leave the
	// process when an exporter is configured.
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if e := fn(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		return errors.Join(errs...)
	}

	return shutdown, nil
}
