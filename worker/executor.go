package worker

import (
	"context"

	"github.com/xraph/batch/job"
)

// Capability is an optional executor feature. Capabilities are
// advisory: the engine always passes a ProgressFunc and always cancels
// the attempt's context, and only logs when an executor cannot honour
// either.
type Capability uint8

const (
	// CapProgress executors report progress through the ProgressFunc.
	CapProgress Capability = 1 << iota
	// CapCancel executors stop early when the ProgressFunc returns an
	// error or their context is cancelled.
	CapCancel
)

// Has reports whether c includes all of want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// ProgressFunc receives progress (0-100) and a status message. A non-nil
// return asks the executor to stop; it wraps
// [batch.ErrCancellationRequested].
type ProgressFunc func(progress float64, message string) error

// Executor performs the work for one job type.
type Executor interface {
	// CanHandle reports whether the executor accepts j.
	CanHandle(j *job.Job) bool

	// Execute runs one attempt of j. Returning a *job.Error selects the
	// error code used for retry classification. Execute may modify
	// j.Options; the engine discards those changes.
	Execute(ctx context.Context, j *job.Job, progress ProgressFunc) (*job.Result, error)

	// Cleanup releases resources. The engine calls it once, at shutdown.
	Cleanup() error

	// Capabilities reports the optional features the executor supports.
	Capabilities() Capability
}

// Supports reports whether e has capability c.
func Supports(e Executor, c Capability) bool {
	return e.Capabilities().Has(c)
}

// Listener receives engine lifecycle callbacks. Callbacks run on worker
// goroutines and must not block. Jobs are passed by value.
type Listener interface {
	JobStarted(j job.Job)
	JobProgress(j job.Job, progress float64, message string)
	JobCompleted(j job.Job, res *job.Result)
	JobFailed(j job.Job, err *job.Error)
	JobCancelled(j job.Job)
}

// NopListener ignores all callbacks. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) JobStarted(job.Job) {}
func (NopListener) JobProgress(job.Job, float64, string) {}
func (NopListener) JobCompleted(job.Job, *job.Result) {}
func (NopListener) JobFailed(job.Job, *job.Error) {}
func (NopListener) JobCancelled(job.Job) {}

var _ Listener = NopListener{}
