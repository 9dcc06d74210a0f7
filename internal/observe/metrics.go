// Package observe provides application-wide observability primitives for
// sarvis: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sarvis metrics.
const meterName = "github.com/MrWong99/sarvis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency. Use with
	// attribute.String("purpose", "wake"|"command").
	STTDuration metric.Float64Histogram

	// LLMDuration tracks command parse fallback latency.
	LLMDuration metric.Float64Histogram

	// KWSDuration tracks keyword classifier latency including feature
	// extraction.
	KWSDuration metric.Float64Histogram

	// SpeakerDuration tracks speaker verification latency.
	SpeakerDuration metric.Float64Histogram

	// FeedbackDuration tracks the wait for the feedback gate.
	FeedbackDuration metric.Float64Histogram

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Pipeline counters ---

	// WakeDetected counts segments the keyword classifier accepted.
	WakeDetected metric.Int64Counter

	// WakeValidated counts wake phrases confirmed by transcription.
	WakeValidated metric.Int64Counter

	// WakeValidationFailed counts wake phrases transcription did not confirm.
	WakeValidationFailed metric.Int64Counter

	// SpeakerVerifications counts speaker checks. Use with
	// attribute.String("result", "accepted"|"rejected"|"bypassed"|"error").
	SpeakerVerifications metric.Int64Counter

	// FeedbackRequests counts feedback gate calls. Use with
	// attribute.String("outcome", ...).
	FeedbackRequests metric.Int64Counter

	// CommandStarted counts collections that started. Use with
	// attribute.String("path", "primary"|"fallback").
	CommandStarted metric.Int64Counter

	// CommandFinalized counts finalized collections. Use with
	// attribute.String("reason", "silence"|"max_length"|"wake_wait").
	CommandFinalized metric.Int64Counter

	// CommandResults counts parsed commands. Use with
	// attribute.String("kind", ...).
	CommandResults metric.Int64Counter

	// SegmentsDropped counts segments dropped because the worker queue was
	// full or the gate was closed. Use with attribute.String("reason", ...).
	SegmentsDropped metric.Int64Counter

	// StateTransitions counts pipeline mode changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// EventSubscribers tracks connected /events websocket clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops server latency by method, route (the
	// matched mux pattern) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// pipeline stages, from a ~20 ms classifier pass to a 10 s feedback wait.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "sarvis.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "sarvis.llm.duration", "Latency of the command parse fallback."},
		{&met.KWSDuration, "sarvis.kws.duration", "Latency of keyword classification."},
		{&met.SpeakerDuration, "sarvis.speaker.duration", "Latency of speaker verification."},
		{&met.FeedbackDuration, "sarvis.feedback.duration", "Time spent waiting for app feedback."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "sarvis.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "sarvis.provider.errors", "Total provider errors by provider and kind."},
		{&met.WakeDetected, "sarvis.wake.detected", "Segments accepted by the keyword classifier."},
		{&met.WakeValidated, "sarvis.wake.validated", "Wake phrases confirmed by transcription."},
		{&met.WakeValidationFailed, "sarvis.wake.validation_failed", "Wake phrases transcription did not confirm."},
		{&met.SpeakerVerifications, "sarvis.speaker.verifications", "Speaker verifications by result."},
		{&met.FeedbackRequests, "sarvis.feedback.requests", "Feedback gate requests by outcome."},
		{&met.CommandStarted, "sarvis.command.started", "Command collections started by path."},
		{&met.CommandFinalized, "sarvis.command.finalized", "Command collections finalized by reason."},
		{&met.CommandResults, "sarvis.command.results", "Parsed command results by kind."},
		{&met.SegmentsDropped, "sarvis.segments.dropped", "Speech segments dropped before processing."},
		{&met.StateTransitions, "sarvis.state.transitions", "Pipeline mode transitions."},
		{&met.BreakerTransitions, "sarvis.breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.EventSubscribers, err = m.Int64UpDownCounter("sarvis.events.subscribers",
		metric.WithDescription("Connected event stream clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sarvis.http.request.duration",
		metric.WithDescription("Ops server request latency by method, route and status."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSpeaker records a speaker verification result.
func (m *Metrics) RecordSpeaker(ctx context.Context, result string) {
	m.SpeakerVerifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFeedback records a feedback gate outcome and its duration.
func (m *Metrics) RecordFeedback(ctx context.Context, outcome string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.FeedbackRequests.Add(ctx, 1, attrs)
	m.FeedbackDuration.Record(ctx, took.Seconds(), attrs)
}

// RecordCommandStarted records the start of a command collection.
func (m *Metrics) RecordCommandStarted(ctx context.Context, path string) {
	m.CommandStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordCommandFinalized records a finalized collection.
func (m *Metrics) RecordCommandFinalized(ctx context.Context, reason string) {
	m.CommandFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCommandResult records a parsed command.
func (m *Metrics) RecordCommandResult(ctx context.Context, kind string) {
	m.CommandResults.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSegmentDropped records a dropped segment.
func (m *Metrics) RecordSegmentDropped(ctx context.Context, reason string) {
	m.SegmentsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition records a pipeline mode change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}
