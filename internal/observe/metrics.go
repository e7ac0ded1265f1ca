// Package observe provides application-wide observability primitives for
// Auricle: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auricle metrics.
const meterName = "github.com/MrWong99/auricle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscribeDuration tracks speech-to-text transcription latency. Use with
	// attribute:
	//   attribute.String("provider", ...)
	TranscribeDuration metric.Float64Histogram

	// QueueWait tracks how long a task sat queued before a worker picked it
	// up. Use with attribute:
	//   attribute.String("queue", ...)
	QueueWait metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts audio frames accepted from clients.
	FramesProcessed metric.Int64Counter

	// UtterancesFinalized counts utterances the segmenter closed out. Use with
	// attribute:
	//   attribute.String("reason", ...) — "silence"; truncation at max length
	//   drops old audio without finalizing, so it never shows up here
	UtterancesFinalized metric.Int64Counter

	// TasksSubmitted counts pipeline submissions by outcome. Use with
	// attribute:
	//   attribute.String("status", ...) — "queued", "rejected_queue_full",
	//   "rejected_circuit_open"
	TasksSubmitted metric.Int64Counter

	// --- Error counters ---

	// TranscribeErrors counts failed transcription attempts. Use with
	// attribute:
	//   attribute.String("provider", ...)
	TranscribeErrors metric.Int64Counter

	// EventsDropped counts events the bus discarded under buffer pressure.
	EventsDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions in the registry.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of queued tasks. Use with attribute:
	//   attribute.String("queue", ...) — "high" or "normal"
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("auricle.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueWait, err = m.Float64Histogram("auricle.pipeline.queue_wait",
		metric.WithDescription("Time tasks spent queued before a worker picked them up."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("auricle.audio.frames",
		metric.WithDescription("Total audio frames accepted from clients."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesFinalized, err = m.Int64Counter("auricle.utterances.finalized",
		metric.WithDescription("Total finalized utterances by finalization reason."),
	); err != nil {
		return nil, err
	}
	if met.TasksSubmitted, err = m.Int64Counter("auricle.pipeline.tasks",
		metric.WithDescription("Total pipeline submissions by outcome status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TranscribeErrors, err = m.Int64Counter("auricle.transcribe.errors",
		metric.WithDescription("Total failed transcription attempts by provider."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("auricle.events.dropped",
		metric.WithDescription("Total events dropped under event-bus buffer pressure."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("auricle.active_sessions",
		metric.WithDescription("Number of live sessions in the registry."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("auricle.pipeline.queue_depth",
		metric.WithDescription("Number of queued tasks by queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("auricle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTask is a convenience method that records a pipeline submission
// outcome.
func (m *Metrics) RecordTask(ctx context.Context, status string) {
	m.TasksSubmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTranscribe is a convenience method that records one transcription
// attempt: latency on success, the error counter on failure.
func (m *Metrics) RecordTranscribe(ctx context.Context, provider string, seconds float64, failed bool) {
	if failed {
		m.TranscribeErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
		return
	}
	m.TranscribeDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordUtterance is a convenience method that records a finalized utterance
// with its finalization reason.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string) {
	m.UtterancesFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
