// Package observe provides application-wide observability primitives for
// verbatim: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all verbatim metrics.
const meterName = "github.com/tobfr/verbatim"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TaskDuration tracks task execution latency. Use with attributes:
	//   attribute.String("queue", ...), attribute.String("task_type", ...)
	TaskDuration metric.Float64Histogram

	// ProviderDuration tracks model-provider call latency (transcription,
	// LLM, voice embedding). Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderDuration metric.Float64Histogram

	// --- Counters ---

	// TasksSubmitted counts task submissions by queue and task type.
	TasksSubmitted metric.Int64Counter

	// TasksCompleted counts terminal task outcomes. Use with attributes:
	//   attribute.String("task_type", ...), attribute.String("status", ...)
	TasksCompleted metric.Int64Counter

	// TaskRetries counts automatic task retries by task type.
	TaskRetries metric.Int64Counter

	// RecoveryActions counts recovery reconciliation actions. Use with
	// attribute: attribute.String("action", ...) — e.g. "stuck_reset",
	// "orphaned", "claim_requeued", "abandoned_reset".
	RecoveryActions metric.Int64Counter

	// SpeakerMatches counts cross-file speaker matches. Use with attribute:
	//   attribute.String("band", ...) — "high" or "medium".
	SpeakerMatches metric.Int64Counter

	// NotificationsPublished counts events pushed onto the notification bus
	// by event type.
	NotificationsPublished metric.Int64Counter

	// --- Error counters ---

	// TaskFailures counts failed tasks. Use with attributes:
	//   attribute.String("task_type", ...), attribute.String("error_kind", ...)
	TaskFailures metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of pending jobs per queue. Use with
	// attribute: attribute.String("queue", ...).
	QueueDepth metric.Int64UpDownCounter

	// ActiveWorkers tracks workers currently executing a task, per queue.
	ActiveWorkers metric.Int64UpDownCounter

	// FilesProcessing tracks media files currently in the PROCESSING state.
	FilesProcessing metric.Int64UpDownCounter

	// GPUUtilization is the last sampled GPU utilization percentage, and
	// GPUMemoryUsed the last sampled GPU memory use in MiB. Both are set by
	// the update_gpu_stats beat. Use with attribute:
	//   attribute.String("device", ...)
	GPUUtilization metric.Int64Gauge
	GPUMemoryUsed  metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// taskBuckets defines histogram bucket boundaries (in seconds). Transcription
// of long recordings can run for many minutes, so the upper buckets stretch
// far past typical HTTP latencies.
var taskBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TaskDuration, err = m.Float64Histogram("verbatim.task.duration",
		metric.WithDescription("Task execution latency by queue and task type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(taskBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("verbatim.provider.duration",
		metric.WithDescription("Model-provider call latency by provider and kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(taskBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TasksSubmitted, err = m.Int64Counter("verbatim.tasks.submitted",
		metric.WithDescription("Total task submissions by queue and task type."),
	); err != nil {
		return nil, err
	}
	if met.TasksCompleted, err = m.Int64Counter("verbatim.tasks.completed",
		metric.WithDescription("Total terminal task outcomes by task type and status."),
	); err != nil {
		return nil, err
	}
	if met.TaskRetries, err = m.Int64Counter("verbatim.tasks.retries",
		metric.WithDescription("Total automatic task retries by task type."),
	); err != nil {
		return nil, err
	}
	if met.RecoveryActions, err = m.Int64Counter("verbatim.recovery.actions",
		metric.WithDescription("Total recovery reconciliation actions by action."),
	); err != nil {
		return nil, err
	}
	if met.SpeakerMatches, err = m.Int64Counter("verbatim.speaker.matches",
		metric.WithDescription("Total cross-file speaker matches by confidence band."),
	); err != nil {
		return nil, err
	}
	if met.NotificationsPublished, err = m.Int64Counter("verbatim.notifications.published",
		metric.WithDescription("Total notification events published by event type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TaskFailures, err = m.Int64Counter("verbatim.tasks.failures",
		metric.WithDescription("Total failed tasks by task type and error kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("verbatim.queue.depth",
		metric.WithDescription("Pending jobs per queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("verbatim.workers.active",
		metric.WithDescription("Workers currently executing a task, per queue."),
	); err != nil {
		return nil, err
	}
	if met.FilesProcessing, err = m.Int64UpDownCounter("verbatim.files.processing",
		metric.WithDescription("Media files currently in the PROCESSING state."),
	); err != nil {
		return nil, err
	}
	if met.GPUUtilization, err = m.Int64Gauge("verbatim.gpu.utilization",
		metric.WithDescription("Last sampled GPU utilization percentage by device."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	if met.GPUMemoryUsed, err = m.Int64Gauge("verbatim.gpu.memory.used",
		metric.WithDescription("Last sampled GPU memory use by device."),
		metric.WithUnit("MiBy"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("verbatim.http.request.duration",
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

// RecordTaskOutcome records a terminal task outcome with the standard
// attribute set.
func (m *Metrics) RecordTaskOutcome(ctx context.Context, taskType, status string) {
	m.TasksCompleted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task_type", taskType),
			attribute.String("status", status),
		),
	)
}

// RecordTaskFailure records a failed task with its error kind.
func (m *Metrics) RecordTaskFailure(ctx context.Context, taskType, errorKind string) {
	m.TaskFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task_type", taskType),
			attribute.String("error_kind", errorKind),
		),
	)
}

// RecordRecoveryAction records a recovery reconciliation action.
func (m *Metrics) RecordRecoveryAction(ctx context.Context, action string) {
	m.RecoveryActions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordSpeakerMatch records a cross-file speaker match in the given
// confidence band ("high" or "medium").
func (m *Metrics) RecordSpeakerMatch(ctx context.Context, band string) {
	m.SpeakerMatches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("band", band)),
	)
}
