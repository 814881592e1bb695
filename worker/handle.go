package worker

import (
	"context"
	"sync"

	"github.com/xraph/batch/job"
)

// Outcome is how an attempt ended.
type Outcome struct {
	// Status is StatusCompleted, StatusFailed or StatusCancelled.
	Status job.Status
	// Job is the job as it stood at the end of the attempt.
	Job    job.Job
	Result *job.Result
	Error  *job.Error
}

type handleState int

const (
	stateQueued handleState = iota
	stateRunning
	stateFinished
)

// Handle tracks one submitted attempt.
type Handle struct {
	job    job.Job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   handleState
	outcome Outcome
}

func newHandle(parent context.Context, j job.Job) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{job: j, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// JobID returns the ID of the submitted job.
func (h *Handle) JobID() string { return h.job.ID }

// Attempt returns the attempt number the job carried at submission.
func (h *Handle) Attempt() int { return h.job.Attempt }

// Token returns the dispatch token the job carried at submission.
func (h *Handle) Token() uint64 { return h.job.Token }

// Done is closed when the attempt has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the attempt has started and not yet ended.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateRunning
}

// Wait blocks until the attempt ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the attempt's outcome; it is the zero value until
// Done is closed.
func (h *Handle) Outcome() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// start moves a queued handle to running. It returns false if the handle
// was cancelled first.
func (h *Handle) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateQueued || h.ctx.Err() != nil {
		return false
	}
	h.state = stateRunning
	return true
}

// finish records the outcome once. It returns false if already finished.
func (h *Handle) finish(o Outcome) bool {
	h.mu.Lock()
	if h.state == stateFinished {
		h.mu.Unlock()
		return false
	}
	h.state = stateFinished
	h.outcome = o
	h.mu.Unlock()
	h.cancel()
	close(h.done)
	return true
}
