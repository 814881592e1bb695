package ext

import (
	"context"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
)

// Event names a job lifecycle event delivered to a JobObserverFunc.
type Event string

// Job events.
const (
	EventJobAdded     Event = "job_added"
	EventJobStarted   Event = "job_started"
	EventJobProgress  Event = "job_progress"
	EventJobCompleted Event = "job_completed"
	EventJobRetrying  Event = "job_retrying"
	EventJobFailed    Event = "job_failed"
	EventJobCancelled Event = "job_cancelled"
	EventJobRecovery  Event = "job_recovery"
)

// JobObserverFunc receives every job lifecycle event with a copy of the
// job.
type JobObserverFunc func(event Event, j job.Job)

// Name implements Extension.
func (JobObserverFunc) Name() string { return "job-observer" }

// OnJobAdded delivers EventJobAdded.
func (f JobObserverFunc) OnJobAdded(_ context.Context, j *job.Job) error {
	f(EventJobAdded, j.Clone())
	return nil
}

// OnJobStarted delivers EventJobStarted.
func (f JobObserverFunc) OnJobStarted(_ context.Context, j *job.Job) error {
	f(EventJobStarted, j.Clone())
	return nil
}

// OnJobProgress delivers EventJobProgress.
func (f JobObserverFunc) OnJobProgress(_ context.Context, j *job.Job, _ float64, _ string) error {
	f(EventJobProgress, *j)
	return nil
}

// OnJobCompleted delivers EventJobCompleted.
func (f JobObserverFunc) OnJobCompleted(_ context.Context, j *job.Job, _ *job.Result) error {
	f(EventJobCompleted, j.Clone())
	return nil
}

// OnJobRetrying delivers EventJobRetrying.
func (f JobObserverFunc) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	f(EventJobRetrying, j.Clone())
	return nil
}

// OnJobFailed delivers EventJobFailed.
func (f JobObserverFunc) OnJobFailed(_ context.Context, j *job.Job, _ *job.Error) error {
	f(EventJobFailed, j.Clone())
	return nil
}

// OnJobCancelled delivers EventJobCancelled.
func (f JobObserverFunc) OnJobCancelled(_ context.Context, j *job.Job) error {
	f(EventJobCancelled, j.Clone())
	return nil
}

// OnJobRecovered delivers EventJobRecovery.
func (f JobObserverFunc) OnJobRecovered(_ context.Context, j *job.Job) error {
	f(EventJobRecovery, j.Clone())
	return nil
}

// StateObserverFunc receives the queue summary after every state change.
type StateObserverFunc func(s batch.Summary)

// Name implements Extension.
func (StateObserverFunc) Name() string { return "state-observer" }

// OnStateChanged passes s to the function.
func (f StateObserverFunc) OnStateChanged(_ context.Context, s batch.Summary) error {
	f(s)
	return nil
}

var (
	_ JobAdded     = JobObserverFunc(nil)
	_ JobStarted   = JobObserverFunc(nil)
	_ JobProgress  = JobObserverFunc(nil)
	_ JobCompleted = JobObserverFunc(nil)
	_ JobRetrying  = JobObserverFunc(nil)
	_ JobFailed    = JobObserverFunc(nil)
	_ JobCancelled = JobObserverFunc(nil)
	_ JobRecovered = JobObserverFunc(nil)
	_ StateChanged = StateObserverFunc(nil)
)
