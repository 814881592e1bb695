package middleware

import (
	"context"
	"errors"

	"github.com/xraph/batch/job"
)

// Handler is the terminal function that runs one job attempt.
type Handler func(ctx context.Context) (*job.Result, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the job being executed and the next handler to call.
// Middleware MUST call next to continue the chain unless short-circuiting.
type Middleware func(ctx context.Context, j *job.Job, next Handler) (*job.Result, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, tracing, logging) executes as:
//
//	recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (*job.Result, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (*job.Result, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Failure returns the error an attempt ended with: err itself, or the
// error carried by an unsuccessful result. It returns nil for a
// successful attempt.
func Failure(res *job.Result, err error) error {
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("executor returned no result")
	}
	if !res.Success {
		if res.Error != nil {
			return res.Error
		}
		return job.NewError(job.CodeExecutionFailed, "executor reported failure", nil)
	}
	return nil
}
