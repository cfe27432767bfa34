// Package observe provides application-wide observability primitives for
// vivadeck: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all vivadeck metrics.
const meterName = "github.com/vivadeck/vivadeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the recognizer's turnaround from end of speech to
	// final transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// NodeDuration tracks session workflow node execution time. Use with
	// attributes:
	//   attribute.String("node", ...), attribute.String("status", ...)
	NodeDuration metric.Float64Histogram

	// IngestDuration tracks artifact parse-chunk-embed-store latency.
	IngestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// QuestionsAsked counts questions spoken to the candidate. Use with
	// attribute:
	//   attribute.String("level", ...)
	QuestionsAsked metric.Int64Counter

	// AnswersEvaluated counts scored answers. Use with attribute:
	//   attribute.String("level", ...)
	AnswersEvaluated metric.Int64Counter

	// CheckpointWrites counts checkpoint store writes. Use with attribute:
	//   attribute.String("reason", ...)
	CheckpointWrites metric.Int64Counter

	// Interruptions counts candidate barge-ins that cut reviewer speech.
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live review sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected room participants.
	ActiveParticipants metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.STTDuration, err = m.Float64Histogram("vivadeck.stt.duration",
		metric.WithDescription("Recognizer turnaround from end of speech to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("vivadeck.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("vivadeck.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NodeDuration, err = m.Float64Histogram("vivadeck.session.node.duration",
		metric.WithDescription("Session workflow node execution time by node and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestDuration, err = m.Float64Histogram("vivadeck.artifact.ingest.duration",
		metric.WithDescription("Artifact parse, chunk, embed, and store latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("vivadeck.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsAsked, err = m.Int64Counter("vivadeck.questions.asked",
		metric.WithDescription("Total questions spoken to the candidate by difficulty level."),
	); err != nil {
		return nil, err
	}
	if met.AnswersEvaluated, err = m.Int64Counter("vivadeck.answers.evaluated",
		metric.WithDescription("Total scored answers by difficulty level."),
	); err != nil {
		return nil, err
	}
	if met.CheckpointWrites, err = m.Int64Counter("vivadeck.checkpoint.writes",
		metric.WithDescription("Total checkpoint store writes by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("vivadeck.interruptions",
		metric.WithDescription("Total candidate barge-ins that cut reviewer speech."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vivadeck.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vivadeck.active_sessions",
		metric.WithDescription("Number of live review sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("vivadeck.active_participants",
		metric.WithDescription("Number of connected room participants."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vivadeck.http.request.duration",
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

// RecordQuestionAsked is a convenience method that records a spoken question
// counter increment.
func (m *Metrics) RecordQuestionAsked(ctx context.Context, level string) {
	m.QuestionsAsked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("level", level)),
	)
}

// RecordEvaluation is a convenience method that records a scored answer
// counter increment.
func (m *Metrics) RecordEvaluation(ctx context.Context, level string) {
	m.AnswersEvaluated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("level", level)),
	)
}

// RecordCheckpoint is a convenience method that records a checkpoint write
// counter increment.
func (m *Metrics) RecordCheckpoint(ctx context.Context, reason string) {
	m.CheckpointWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordNodeStep is a convenience method that records a workflow node
// execution duration with its outcome status.
func (m *Metrics) RecordNodeStep(ctx context.Context, node string, seconds float64, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.NodeDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("node", node),
			attribute.String("status", status),
		),
	)
}

// RecordInterruption is a convenience method that counts a candidate barge-in.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordParticipantChange adjusts the active participant gauge by delta
// (+1 on join, -1 on leave).
func (m *Metrics) RecordParticipantChange(ctx context.Context, delta int64) {
	m.ActiveParticipants.Add(ctx, delta)
}
