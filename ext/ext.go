package ext

import (
	"context"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobAdded is called after a job is accepted into the queue.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins an attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called for every progress report.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, progress float64, message string) error
}

// JobCompleted is called after an attempt succeeds.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, res *job.Result) error
}

// JobRetrying is called when a failed job is scheduled to run again.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, retryCount int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err *job.Error) error
}

// JobCancelled is called when an attempt ends cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobRecovered is called for each job restored from a checkpoint.
type JobRecovered interface {
	OnJobRecovered(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// StateChanged is called with a fresh summary after any state change.
type StateChanged interface {
	OnStateChanged(ctx context.Context, s batch.Summary) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
