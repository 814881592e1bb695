package batch

import "context"

type ctxKey int

const (
	jobIDKey ctxKey = iota
	attemptKey
)

// WithJob returns a copy of ctx carrying the executing job's ID and
// dispatch attempt. The engine sets these before invoking an executor.
func WithJob(ctx context.Context, jobID string, attempt int) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	return context.WithValue(ctx, attemptKey, attempt)
}

// JobIDFromContext returns the ID of the job executing under ctx.
func JobIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(jobIDKey).(string)
	return v, ok
}

// AttemptFromContext returns the dispatch attempt of the job executing
// under ctx.
func AttemptFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey).(int)
	return v, ok
}
