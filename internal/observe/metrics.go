// Package observe provides application-wide observability primitives for
// Attune: OpenTelemetry metrics, distributed tracing, and the glue to expose
// both through Prometheus.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Attune metrics.
const meterName = "github.com/corvidlabs/attune"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-pipeline-stage latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("mode", ...)
	StageDuration metric.Float64Histogram

	// AIRequestDuration tracks AI provider call latency (including gateway
	// retries). Use with attribute.String("purpose", ...).
	AIRequestDuration metric.Float64Histogram

	// AIRequests counts AI provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("purpose", ...),
	//   attribute.String("status", ...)
	AIRequests metric.Int64Counter

	// AIErrors counts AI provider failures by class. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("class", ...)
	AIErrors metric.Int64Counter

	// PipelineRuns counts finished pipeline runs. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", ...)
	PipelineRuns metric.Int64Counter

	// StageRetries counts mandatory-stage retry events. Use with
	//   attribute.String("stage", ...)
	StageRetries metric.Int64Counter

	// ActivePipelines tracks the number of sessions currently processing.
	ActivePipelines metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Stage and
// provider calls here are batch operations, so buckets reach into tens of
// seconds.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("attune.stage.duration",
		metric.WithDescription("Latency of one pipeline stage execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AIRequestDuration, err = m.Float64Histogram("attune.ai.duration",
		metric.WithDescription("Latency of AI provider calls including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AIRequests, err = m.Int64Counter("attune.ai.requests",
		metric.WithDescription("Total AI provider requests by provider, purpose, and status."),
	); err != nil {
		return nil, err
	}
	if met.AIErrors, err = m.Int64Counter("attune.ai.errors",
		metric.WithDescription("AI provider failures by provider and error class."),
	); err != nil {
		return nil, err
	}
	if met.PipelineRuns, err = m.Int64Counter("attune.pipeline.runs",
		metric.WithDescription("Finished pipeline runs by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.StageRetries, err = m.Int64Counter("attune.stage.retries",
		metric.WithDescription("Mandatory-stage retry events by stage."),
	); err != nil {
		return nil, err
	}
	if met.ActivePipelines, err = m.Int64UpDownCounter("attune.pipeline.active",
		metric.WithDescription("Number of sessions currently processing."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the lazily initialised package-level [Metrics]
// instance bound to the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordStage records one stage execution duration in seconds. Nil-safe so
// call sites never need a metrics guard.
func (m *Metrics) RecordStage(ctx context.Context, stage, mode string, seconds float64) {
	if m == nil || m.StageDuration == nil {
		return
	}
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("mode", mode),
		))
}

// RecordPipelineRun records one finished pipeline run.
func (m *Metrics) RecordPipelineRun(ctx context.Context, mode, outcome string) {
	if m == nil || m.PipelineRuns == nil {
		return
	}
	m.PipelineRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// RecordStageRetry records one mandatory-stage retry event.
func (m *Metrics) RecordStageRetry(ctx context.Context, stage string) {
	if m == nil || m.StageRetries == nil {
		return
	}
	m.StageRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// PipelineStarted and PipelineEnded bracket one active pipeline run.
func (m *Metrics) PipelineStarted(ctx context.Context) {
	if m == nil || m.ActivePipelines == nil {
		return
	}
	m.ActivePipelines.Add(ctx, 1)
}

func (m *Metrics) PipelineEnded(ctx context.Context) {
	if m == nil || m.ActivePipelines == nil {
		return
	}
	m.ActivePipelines.Add(ctx, -1)
}

// RecordAICall records one gateway invocation outcome.
func (m *Metrics) RecordAICall(ctx context.Context, provider, purpose, status string, seconds float64) {
	if m == nil || m.AIRequests == nil {
		return
	}
	m.AIRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("purpose", purpose),
		attribute.String("status", status),
	))
	m.AIRequestDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("purpose", purpose),
	))
	if status != "ok" {
		m.AIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("class", status),
		))
	}
}
