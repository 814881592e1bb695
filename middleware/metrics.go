package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/batch/job"
)

// meterName is the instrumentation scope name for batch metrics.
const meterName = "github.com/xraph/batch"

// Metrics returns middleware that records per-attempt execution metrics
// using the global OTel MeterProvider. Without a configured provider the
// instruments are noops.
//
// Instruments:
//   - batch.job.duration (Float64Histogram): attempt time in seconds,
//     with attributes: job_type, status ("ok" or "error")
//   - batch.job.executions (Int64Counter): total attempts,
//     with attributes: job_type, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API hands back noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"batch.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"batch.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) (*job.Result, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if Failure(res, err) != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_type", string(j.Type)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return res, err
	}
}
