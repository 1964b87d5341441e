// Package observe provides application-wide observability primitives for
// MandiVoice: OpenTelemetry metrics and the Prometheus exporter bridge that
// makes them scrapeable.
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

// meterName is the instrumentation scope name used for all MandiVoice metrics.
const meterName = "github.com/mandivoice/mandivoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-stage pipeline latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end utterance processing latency.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// RetryAttempts counts retry invocations beyond the first attempt. Use
	// with attribute: attribute.String("op", ...)
	RetryAttempts metric.Int64Counter

	// FallbackInvocations counts fallback dispatches by service kind.
	FallbackInvocations metric.Int64Counter

	// Utterances counts processed utterances. Use with attributes:
	//   attribute.String("status", "ok"|"partial"|"error")
	Utterances metric.Int64Counter

	// ScalingActions counts executed autoscaler actions. Use with attribute:
	//   attribute.String("action", "up"|"down")
	ScalingActions metric.Int64Counter

	// ServiceFailures counts failures recorded against the health controller.
	// Use with attribute: attribute.String("service", ...)
	ServiceFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of Active conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// WorkerInstances tracks the current worker pool size as last observed by
	// the autoscaler.
	WorkerInstances metric.Int64UpDownCounter

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method and route template so session IDs never become metric labels.
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
	if met.StageDuration, err = m.Float64Histogram("mandivoice.stage.duration",
		metric.WithDescription("Latency of one pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("mandivoice.pipeline.duration",
		metric.WithDescription("End-to-end utterance processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RetryAttempts, err = m.Int64Counter("mandivoice.retry.attempts",
		metric.WithDescription("Retry invocations beyond the first attempt, by operation."),
	); err != nil {
		return nil, err
	}
	if met.FallbackInvocations, err = m.Int64Counter("mandivoice.fallback.invocations",
		metric.WithDescription("Fallback dispatches by service kind."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("mandivoice.utterances",
		metric.WithDescription("Processed utterances by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.ScalingActions, err = m.Int64Counter("mandivoice.scaling.actions",
		metric.WithDescription("Executed autoscaler actions by direction."),
	); err != nil {
		return nil, err
	}
	if met.ServiceFailures, err = m.Int64Counter("mandivoice.service.failures",
		metric.WithDescription("Failures recorded against the health controller, by service."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mandivoice.active_sessions",
		metric.WithDescription("Number of Active conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.WorkerInstances, err = m.Int64UpDownCounter("mandivoice.worker_instances",
		metric.WithDescription("Current worker pool size observed by the autoscaler."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mandivoice.http.request.duration",
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

// RecordStage records one pipeline stage duration with the standard attribute
// set. status is "ok", "fallback", or "error".
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordUtterance records one completed utterance with its end-to-end latency.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, total time.Duration) {
	m.PipelineDuration.Record(ctx, total.Seconds())
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordFallback records a fallback dispatch for the given service kind.
func (m *Metrics) RecordFallback(ctx context.Context, service string) {
	m.FallbackInvocations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("service", service)),
	)
}

// RecordScalingAction records an executed scaling action.
func (m *Metrics) RecordScalingAction(ctx context.Context, action string) {
	m.ScalingActions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordServiceFailure records a failure attributed to one service kind.
func (m *Metrics) RecordServiceFailure(ctx context.Context, service string) {
	m.ServiceFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("service", service)),
	)
}
