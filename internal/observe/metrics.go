// Package observe provides application-wide observability primitives for
// elocution: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all elocution metrics.
const meterName = "github.com/MrWong99/elocution"

// Evaluation outcomes recorded on [Metrics.Evaluations].
const (
	OutcomeScored       = "scored"
	OutcomeUnrecognised = "unrecognised"
	OutcomeError        = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types are safe for concurrent use.
type Metrics struct {
	// EvaluationDuration tracks the time spent aligning and scoring one
	// attempt, excluding transcription.
	EvaluationDuration metric.Float64Histogram

	// EvaluationScore records the score percentage of every scored attempt.
	// Use with attribute.String("language", ...).
	EvaluationScore metric.Float64Histogram

	// Evaluations counts exercise attempts. Use with attributes:
	//   attribute.String("language", ...), attribute.String("outcome", ...)
	Evaluations metric.Int64Counter

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// CircuitStateChanges counts circuit breaker transitions. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("from", ...), attribute.String("to", ...)
	CircuitStateChanges metric.Int64Counter

	// PronunciationsSaved counts user pronunciation rows written to storage.
	PronunciationsSaved metric.Int64Counter

	// DuplicateSubmissions counts requests rejected by the idempotency guard.
	DuplicateSubmissions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// evaluationBuckets covers the in-process scoring step, which is usually far
// below a millisecond for classroom-length sentences.
var evaluationBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
}

// scoreBuckets splits the 0-100 score range into deciles.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EvaluationDuration, err = m.Float64Histogram("elocution.evaluation.duration",
		metric.WithDescription("Latency of aligning and scoring one attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(evaluationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluationScore, err = m.Float64Histogram("elocution.evaluation.score",
		metric.WithDescription("Pronunciation score of scored attempts."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("elocution.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("elocution.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Evaluations, err = m.Int64Counter("elocution.evaluations",
		metric.WithDescription("Total exercise attempts by language and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("elocution.provider.requests",
		metric.WithDescription("Total STT provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("elocution.provider.errors",
		metric.WithDescription("Total STT provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.CircuitStateChanges, err = m.Int64Counter("elocution.circuit.state_changes",
		metric.WithDescription("Circuit breaker transitions by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.PronunciationsSaved, err = m.Int64Counter("elocution.pronunciations.saved",
		metric.WithDescription("User pronunciation rows written to storage."),
	); err != nil {
		return nil, err
	}
	if met.DuplicateSubmissions, err = m.Int64Counter("elocution.submissions.duplicate",
		metric.WithDescription("Submissions rejected because their idempotency key was already used."),
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
// pointer. Panics if instrument creation fails.
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

// RecordEvaluation records the outcome of one attempt. Duration and score are
// only recorded for [OutcomeScored].
func (m *Metrics) RecordEvaluation(ctx context.Context, language, outcome string, d time.Duration, score float64) {
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("outcome", outcome),
	))
	if outcome != OutcomeScored {
		return
	}
	m.EvaluationDuration.Record(ctx, d.Seconds())
	m.EvaluationScore.Record(ctx, score, metric.WithAttributes(attribute.String("language", language)))
}

// RecordTranscription records the latency and status of one STT call.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider)
	}
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	m.RecordProviderRequest(ctx, provider, status)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCircuitStateChange records a circuit breaker transition.
func (m *Metrics) RecordCircuitStateChange(ctx context.Context, breaker, from, to string) {
	m.CircuitStateChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
