package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/batch/ext"
	"github.com/xraph/batch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobAdded     = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobRecovered = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/batch/observability"

// MetricsExtension records lifecycle metrics through an OTel meter.
// Every instrument carries a job_type attribute.
type MetricsExtension struct {
	JobsAdded     metric.Int64Counter
	JobsStarted   metric.Int64Counter
	JobsCompleted metric.Int64Counter
	JobsFailed    metric.Int64Counter
	JobsRetried   metric.Int64Counter
	JobsCancelled metric.Int64Counter
	JobsRecovered metric.Int64Counter
	JobsRunning   metric.Int64UpDownCounter
	ExecutionTime metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension using meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	running, _ := meter.Int64UpDownCounter("batch.jobs.running",
		metric.WithDescription("Jobs currently executing"), metric.WithUnit("{job}"))
	execTime, _ := meter.Float64Histogram("batch.jobs.execution_time",
		metric.WithDescription("Execution time of successful attempts"), metric.WithUnit("s"))

	return &MetricsExtension{
		JobsAdded:     counter("batch.jobs.added", "Jobs accepted into the queue"),
		JobsStarted:   counter("batch.jobs.started", "Attempts started"),
		JobsCompleted: counter("batch.jobs.completed", "Jobs completed successfully"),
		JobsFailed:    counter("batch.jobs.failed", "Jobs failed terminally"),
		JobsRetried:   counter("batch.jobs.retried", "Retries scheduled"),
		JobsCancelled: counter("batch.jobs.cancelled", "Attempts cancelled"),
		JobsRecovered: counter("batch.jobs.recovered", "Jobs restored from a checkpoint"),
		JobsRunning:   running,
		ExecutionTime: execTime,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", string(j.Type)))
}

// OnJobAdded implements ext.JobAdded.
func (m *MetricsExtension) OnJobAdded(ctx context.Context, j *job.Job) error {
	m.JobsAdded.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobsStarted.Add(ctx, 1, typeAttr(j))
	m.JobsRunning.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, res *job.Result) error {
	m.JobsCompleted.Add(ctx, 1, typeAttr(j))
	m.JobsRunning.Add(ctx, -1, typeAttr(j))
	if res != nil {
		m.ExecutionTime.Record(ctx, res.Seconds(), typeAttr(j))
	}
	return nil
}

// OnJobFailed implements ext.JobFailed. Jobs that failed before
// starting do not touch the running gauge.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ *job.Error) error {
	m.JobsFailed.Add(ctx, 1, typeAttr(j))
	if j.StartedAt != nil {
		m.JobsRunning.Add(ctx, -1, typeAttr(j))
	}
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobsRetried.Add(ctx, 1, typeAttr(j))
	m.JobsRunning.Add(ctx, -1, typeAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobsCancelled.Add(ctx, 1, typeAttr(j))
	if j.StartedAt != nil {
		m.JobsRunning.Add(ctx, -1, typeAttr(j))
	}
	return nil
}

// OnJobRecovered implements ext.JobRecovered.
func (m *MetricsExtension) OnJobRecovered(ctx context.Context, j *job.Job) error {
	m.JobsRecovered.Add(ctx, 1, typeAttr(j))
	return nil
}
