package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/id"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/middleware"
	"github.com/xraph/batch/progress"
)

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = max(n, 1) }
}

// WithTracker sets the progress tracker updated on start and progress.
func WithTracker(t *progress.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithListener sets the lifecycle listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithMiddleware appends middleware run inside the built-in Recover.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs submitted jobs on a fixed number of worker goroutines.
type Engine struct {
	engineID id.ID
	workers  int
	tracker  *progress.Tracker
	listener Listener
	mws      []middleware.Middleware
	mw       middleware.Middleware
	logger   *slog.Logger

	exMu      sync.RWMutex
	executors map[job.Type]Executor

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// mu guards the task queue and the gate flags.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Handle
	started bool
	paused  bool
	closed  bool

	// activeMu guards only the handle map and idle tracking.
	activeMu    sync.Mutex
	active      map[string]*Handle
	outstanding int
	idle        chan struct{}

	wg          sync.WaitGroup
	cleanupOnce sync.Once
	cleanupErr  error
}

// NewEngine creates an engine over executors, keyed by job type. The map
// is copied. Workers do not run until Start.
func NewEngine(executors map[job.Type]Executor, opts ...Option) *Engine {
	e := &Engine{
		engineID:  id.NewEngineID(),
		workers:   2,
		listener:  NopListener{},
		logger:    slog.Default(),
		executors: make(map[job.Type]Executor, len(executors)),
		active:    make(map[string]*Handle),
		idle:      make(chan struct{}),
	}
	close(e.idle)
	for t, ex := range executors {
		if ex != nil {
			e.executors[t] = ex
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cond = sync.NewCond(&e.mu)
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	e.mw = middleware.Chain(append([]middleware.Middleware{middleware.Recover(e.logger)}, e.mws...)...)
	return e
}

// ID returns the engine's identifier.
func (e *Engine) ID() id.ID { return e.engineID }

// Workers returns the pool size.
func (e *Engine) Workers() int { return e.workers }

// Register adds an executor for jobType.
func (e *Engine) Register(jobType job.Type, ex Executor) error {
	if ex == nil {
		return fmt.Errorf("worker: nil executor for %q", jobType)
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return batch.ErrEngineShutdown
	}

	e.exMu.Lock()
	defer e.exMu.Unlock()
	if _, ok := e.executors[jobType]; ok {
		return fmt.Errorf("%w: %q", batch.ErrDuplicateExecutor, jobType)
	}
	e.executors[jobType] = ex
	return nil
}

// Executor returns the executor registered for jobType.
func (e *Engine) Executor(jobType job.Type) (Executor, bool) {
	e.exMu.RLock()
	defer e.exMu.RUnlock()
	ex, ok := e.executors[jobType]
	return ex, ok
}

// JobTypes returns the registered job types, sorted.
func (e *Engine) JobTypes() []job.Type {
	e.exMu.RLock()
	defer e.exMu.RUnlock()
	types := make([]job.Type, 0, len(e.executors))
	for t := range e.executors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Start launches the worker goroutines. It is a no-op when already
// started.
func (e *Engine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return batch.ErrEngineShutdown
	}
	if e.started {
		return nil
	}
	e.started = true

	e.logger.Info("execution engine starting",
		slog.String("engine_id", e.engineID.String()),
		slog.Int("workers", e.workers),
	)

	for range e.workers {
		e.wg.Add(1)
		go e.work()
	}
	return nil
}

// Submit queues an attempt of j and returns immediately. It fails with
// ErrExecutorNotFound when no registered executor accepts j; no worker
// slot is consumed in that case.
func (e *Engine) Submit(j job.Job) (*Handle, error) {
	ex, ok := e.Executor(j.Type)
	if !ok || !ex.CanHandle(&j) {
		return nil, fmt.Errorf("%w: %q", batch.ErrExecutorNotFound, j.Type)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, batch.ErrEngineShutdown
	}

	h := newHandle(e.baseCtx, j.Clone())
	e.track(h)
	e.queue = append(e.queue, h)
	e.cond.Signal()

	e.logger.Debug("job submitted",
		slog.String("job_id", j.ID),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempt),
	)
	return h, nil
}

// Cancel cancels the latest attempt of jobID. A queued attempt is
// removed and reported cancelled immediately; a running attempt has its
// context cancelled and stops at its next progress report. It returns
// false when jobID has no outstanding attempt.
func (e *Engine) Cancel(jobID string) bool {
	e.activeMu.Lock()
	h, ok := e.active[jobID]
	e.activeMu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	idx := slices.Index(e.queue, h)
	if idx >= 0 {
		e.queue = slices.Delete(e.queue, idx, idx+1)
	}
	e.mu.Unlock()

	h.cancel()
	if idx >= 0 {
		e.complete(h, cancelledOutcome(h.job))
		return true
	}
	if ex, ok := e.Executor(h.job.Type); ok && !Supports(ex, CapCancel) {
		e.logger.Warn("executor cannot stop early, cancellation waits for the attempt to end",
			slog.String("job_id", jobID),
			slog.String("job_type", string(h.job.Type)),
		)
	}
	return true
}

// Pause stops workers from starting queued jobs. Running jobs continue.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume lets workers start queued jobs again.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.cond.Broadcast()
}

// IsPaused reports whether the pause gate is closed.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// ActiveJobs returns the IDs of running jobs, sorted.
func (e *Engine) ActiveJobs() []string {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	ids := make([]string, 0, len(e.active))
	for jobID, h := range e.active {
		if h.Running() {
			ids = append(ids, jobID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Queued returns the number of submitted attempts not yet started.
func (e *Engine) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Wait blocks until every submitted attempt has ended or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.activeMu.Lock()
	idle := e.idle
	e.activeMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting submissions, cancels queued attempts and waits
// for running ones. When ctx ends first, running attempts are cancelled
// and waited for. Every registered executor's Cleanup is then called
// once; their errors are joined.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return e.cleanup()
	}
	e.closed = true
	queued := e.queue
	e.queue = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	e.logger.Info("execution engine stopping",
		slog.String("engine_id", e.engineID.String()),
		slog.Int("cancelled_queued", len(queued)),
	)

	for _, h := range queued {
		h.cancel()
		e.complete(h, cancelledOutcome(h.job))
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("execution engine stopped gracefully")
	case <-ctx.Done():
		e.logger.Warn("execution engine shutdown timed out, cancelling running jobs",
			slog.Any("running", e.ActiveJobs()),
		)
		e.baseCancel()
		<-done
	}
	e.baseCancel()

	return e.cleanup()
}

func (e *Engine) cleanup() error {
	e.cleanupOnce.Do(func() {
		e.exMu.RLock()
		defer e.exMu.RUnlock()
		var errs []error
		for t, ex := range e.executors {
			if err := ex.Cleanup(); err != nil {
				e.logger.Warn("executor cleanup failed",
					slog.String("job_type", string(t)),
					slog.Any("error", err),
				)
				errs = append(errs, fmt.Errorf("cleanup %s: %w", t, err))
			}
		}
		e.cleanupErr = errors.Join(errs...)
	})
	return e.cleanupErr
}

// ──────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────

func (e *Engine) work() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		for !e.closed && (e.paused || len(e.queue) == 0) {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		h := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(h)
	}
}

func (e *Engine) run(h *Handle) {
	if !h.start() {
		e.complete(h, cancelledOutcome(h.job))
		return
	}

	ex, ok := e.Executor(h.job.Type)
	if !ok {
		final := h.job.Clone()
		final.Status = job.StatusFailed
		jerr := job.Errorf(job.CodeExecutorNotFound, "no executor for job type %q", final.Type)
		final.ErrorMessage = jerr.Error()
		e.complete(h, Outcome{Status: job.StatusFailed, Job: final, Error: jerr})
		return
	}

	started := time.Now().UTC()
	j := h.job.Clone()
	j.Status = job.StatusRunning
	j.StartedAt = &started
	j.CompletedAt = nil
	j.Progress = 0

	if e.tracker != nil {
		e.tracker.Start(j)
	}
	e.listener.JobStarted(j.Clone())
	if !Supports(ex, CapProgress) {
		e.logger.Debug("executor reports no progress",
			slog.String("job_id", j.ID),
			slog.String("job_type", string(j.Type)),
		)
	}

	snapshot := j.Clone()
	report := func(p float64, message string) error {
		if h.ctx.Err() != nil {
			return fmt.Errorf("%w: job %s", batch.ErrCancellationRequested, snapshot.ID)
		}
		p = max(0, min(p, 100))
		if e.tracker != nil {
			e.tracker.Update(snapshot.ID, p, message)
		}
		s := snapshot
		s.Progress = p
		e.listener.JobProgress(s, p, message)
		return nil
	}

	ctx := batch.WithJob(h.ctx, j.ID, j.Attempt)
	res, err := e.mw(ctx, &j, func(ctx context.Context) (*job.Result, error) {
		return ex.Execute(ctx, &j, report)
	})
	finished := time.Now().UTC()

	final := h.job.Clone()
	final.StartedAt = &started
	final.CompletedAt = &finished

	failure := middleware.Failure(res, err)
	switch {
	case failure == nil:
		final.Status = job.StatusCompleted
		final.Progress = 100
		final.ErrorMessage = ""
		res.JobID = final.ID
		if res.ExecutionTime <= 0 {
			res.ExecutionTime = finished.Sub(started)
		}
		e.complete(h, Outcome{Status: job.StatusCompleted, Job: final, Result: res})

	case cancellation(h, failure):
		final.Status = job.StatusCancelled
		final.Progress = snapshotProgress(e.tracker, final.ID)
		e.complete(h, Outcome{Status: job.StatusCancelled, Job: final})

	default:
		jerr := toJobError(failure)
		final.Status = job.StatusFailed
		final.ErrorMessage = jerr.Error()
		final.Progress = snapshotProgress(e.tracker, final.ID)
		e.complete(h, Outcome{Status: job.StatusFailed, Job: final, Result: res, Error: jerr})
	}
}

// complete notifies the listener, resolves the handle and drops it from
// the active set, in that order.
func (e *Engine) complete(h *Handle, o Outcome) {
	switch o.Status {
	case job.StatusCompleted:
		e.listener.JobCompleted(o.Job, o.Result)
	case job.StatusCancelled:
		e.listener.JobCancelled(o.Job)
	default:
		e.listener.JobFailed(o.Job, o.Error)
	}

	if !h.finish(o) {
		return
	}
	e.untrack(h)
}

func (e *Engine) track(h *Handle) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if e.outstanding == 0 {
		e.idle = make(chan struct{})
	}
	e.outstanding++
	e.active[h.job.ID] = h
}

func (e *Engine) untrack(h *Handle) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if e.active[h.job.ID] == h {
		delete(e.active, h.job.ID)
	}
	e.outstanding--
	if e.outstanding == 0 {
		close(e.idle)
	}
}

func cancelledOutcome(j job.Job) Outcome {
	j = j.Clone()
	j.Status = job.StatusCancelled
	return Outcome{Status: job.StatusCancelled, Job: j}
}

// cancellation reports whether err ends the attempt as cancelled rather
// than failed.
func cancellation(h *Handle, err error) bool {
	if errors.Is(err, batch.ErrCancellationRequested) {
		return true
	}
	return h.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func snapshotProgress(t *progress.Tracker, jobID string) float64 {
	if t == nil {
		return 0
	}
	if p, ok := t.Get(jobID); ok {
		return p.Progress
	}
	return 0
}

// toJobError converts an attempt failure into a classified job error.
func toJobError(err error) *job.Error {
	if je, ok := job.AsError(err); ok {
		return je
	}
	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		return job.NewError(job.CodeExecutionFailed, pe.Error(), map[string]any{
			"panic": fmt.Sprint(pe.Value),
			"stack": pe.Stack,
		})
	}
	return job.NewError(job.CodeExecutionFailed, err.Error(), map[string]any{
		"error_type": fmt.Sprintf("%T", err),
		"stack":      string(debug.Stack()),
	})
}
