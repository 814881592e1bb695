package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/batch/job"
)

// tracerName is the instrumentation scope name for batch tracing.
const tracerName = "github.com/xraph/batch"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. Without a global TracerProvider the noop tracer is used.
//
// Span attributes: batch.job.id, batch.job.type, batch.job.input,
// batch.job.priority, batch.job.attempt.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (*job.Result, error) {
		ctx, span := tracer.Start(ctx, "batch.job.execute",
			trace.WithAttributes(
				attribute.String("batch.job.id", j.ID),
				attribute.String("batch.job.type", string(j.Type)),
				attribute.String("batch.job.input", j.Input),
				attribute.Int("batch.job.priority", j.Priority),
				attribute.Int("batch.job.attempt", j.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		if failure := Failure(res, err); failure != nil {
			span.RecordError(failure)
			span.SetStatus(codes.Error, failure.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return res, err
	}
}
