package ext

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Registration and emission are safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu           sync.RWMutex
	extensions   []Extension
	jobAdded     []entry[JobAdded]
	jobStarted   []entry[JobStarted]
	jobProgress  []entry[JobProgress]
	jobCompleted []entry[JobCompleted]
	jobRetrying  []entry[JobRetrying]
	jobFailed    []entry[JobFailed]
	jobCancelled []entry[JobCancelled]
	jobRecovered []entry[JobRecovered]
	stateChanged []entry[StateChanged]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobAdded); ok {
		r.jobAdded = append(r.jobAdded, entry[JobAdded]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobProgress); ok {
		r.jobProgress = append(r.jobProgress, entry[JobProgress]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, entry[JobCancelled]{name, h})
	}
	if h, ok := e.(JobRecovered); ok {
		r.jobRecovered = append(r.jobRecovered, entry[JobRecovered]{name, h})
	}
	if h, ok := e.(StateChanged); ok {
		r.stateChanged = append(r.stateChanged, entry[StateChanged]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// emit calls fn for every entry, logging errors and panics.
func emit[H any](r *Registry, hook string, entries []entry[H], fn func(H) error) {
	for _, e := range entries {
		r.call(hook, e.name, func() error { return fn(e.hook) })
	}
}

func (r *Registry) call(hook, extName string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logHookError(hook, extName, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, extName, err)
	}
}

// snapshot returns the current entries for one hook under the read lock.
func snapshot[H any](r *Registry, entries *[]entry[H]) []entry[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *entries
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobAdded notifies all extensions that implement JobAdded.
func (r *Registry) EmitJobAdded(ctx context.Context, j *job.Job) {
	emit(r, "OnJobAdded", snapshot(r, &r.jobAdded), func(h JobAdded) error {
		return h.OnJobAdded(ctx, j)
	})
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, "OnJobStarted", snapshot(r, &r.jobStarted), func(h JobStarted) error {
		return h.OnJobStarted(ctx, j)
	})
}

// EmitJobProgress notifies all extensions that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, progress float64, message string) {
	emit(r, "OnJobProgress", snapshot(r, &r.jobProgress), func(h JobProgress) error {
		return h.OnJobProgress(ctx, j, progress, message)
	})
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, res *job.Result) {
	emit(r, "OnJobCompleted", snapshot(r, &r.jobCompleted), func(h JobCompleted) error {
		return h.OnJobCompleted(ctx, j, res)
	})
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, retryCount int, nextRunAt time.Time) {
	emit(r, "OnJobRetrying", snapshot(r, &r.jobRetrying), func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, retryCount, nextRunAt)
	})
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr *job.Error) {
	emit(r, "OnJobFailed", snapshot(r, &r.jobFailed), func(h JobFailed) error {
		return h.OnJobFailed(ctx, j, jobErr)
	})
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	emit(r, "OnJobCancelled", snapshot(r, &r.jobCancelled), func(h JobCancelled) error {
		return h.OnJobCancelled(ctx, j)
	})
}

// EmitJobRecovered notifies all extensions that implement JobRecovered.
func (r *Registry) EmitJobRecovered(ctx context.Context, j *job.Job) {
	emit(r, "OnJobRecovered", snapshot(r, &r.jobRecovered), func(h JobRecovered) error {
		return h.OnJobRecovered(ctx, j)
	})
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitStateChanged notifies all extensions that implement StateChanged.
func (r *Registry) EmitStateChanged(ctx context.Context, s batch.Summary) {
	emit(r, "OnStateChanged", snapshot(r, &r.stateChanged), func(h StateChanged) error {
		return h.OnStateChanged(ctx, s)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", snapshot(r, &r.shutdown), func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// HasStateObservers reports whether any extension listens for state
// changes, letting callers skip building summaries nobody reads.
func (r *Registry) HasStateObservers() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stateChanged) > 0
}

// logHookError logs a warning when a lifecycle hook fails. Errors from
// hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
