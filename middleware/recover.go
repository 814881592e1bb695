package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/batch/job"
)

// PanicError is returned by Recover when an executor panics.
type PanicError struct {
	JobID string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobID, e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to a *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (res *job.Result, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("executor panicked",
					slog.String("job_id", j.ID),
					slog.String("job_type", string(j.Type)),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = nil
				retErr = &PanicError{JobID: j.ID, Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
