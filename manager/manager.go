package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/batch"
	"github.com/xraph/batch/backoff"
	"github.com/xraph/batch/delay"
	"github.com/xraph/batch/ext"
	"github.com/xraph/batch/job"
	mw "github.com/xraph/batch/middleware"
	"github.com/xraph/batch/observability"
	"github.com/xraph/batch/progress"
	"github.com/xraph/batch/queue"
	"github.com/xraph/batch/recovery"
	"github.com/xraph/batch/retry"
	"github.com/xraph/batch/worker"
)

// cancelIntent records why the manager cancelled an in-flight attempt.
type cancelIntent int

const (
	// requeue puts the job back at the front of the pending list.
	requeue cancelIntent = iota
	// userCancel leaves the job cancelled.
	userCancel
)

// Manager orchestrates a batch of jobs.
type Manager struct {
	cfg    batch.Config
	logger *slog.Logger

	queue    *queue.Queue
	tracker  *progress.Tracker
	retries  *retry.Handler
	engine   *worker.Engine
	delays   *delay.Scheduler
	wakes    *delay.Scheduler
	limiter  *queue.Limiter
	exts     *ext.Registry
	recovery *recovery.Manager
	box      *mailbox

	// Build-time settings.
	pendingExts    []ext.Extension
	mws            []mw.Middleware
	store          recovery.Store
	patterns       []retry.Pattern
	strategies     map[string]retry.Strategy
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	ctx    context.Context
	cancel context.CancelFunc

	bootMu sync.Mutex
	booted bool
	coord  chan struct{}

	// mu guards the processing flags, the in-flight attempts and the
	// change notification channel.
	mu       sync.Mutex
	running  bool
	paused   bool
	closed   bool
	tokens   uint64
	inflight map[string]uint64
	intents  map[string]cancelIntent
	notify   chan struct{}
}

// New builds a manager from cfg and the executors for each job type.
func New(cfg batch.Config, executors map[job.Type]worker.Executor, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		logger:   slog.Default(),
		inflight: make(map[string]uint64),
		intents:  make(map[string]cancelIntent),
		notify:   make(chan struct{}),
		coord:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	patterns := m.patterns
	if len(patterns) == 0 && cfg.PatternsFile != "" {
		loaded, err := retry.LoadPatternsFile(cfg.PatternsFile)
		if err != nil {
			return nil, err
		}
		patterns = loaded
	}

	m.exts = ext.NewRegistry(m.logger)
	m.exts.Register(m.metricsExtension())
	for _, e := range m.pendingExts {
		m.exts.Register(e)
	}

	m.queue = queue.New(queue.WithLogger(m.logger))
	m.tracker = progress.NewTracker(progress.WithHistory(cfg.ProgressHistory))
	m.limiter = queue.NewLimiter(cfg.Limits...)
	m.delays = delay.New(delay.WithLogger(m.logger))
	m.wakes = delay.New(delay.WithLogger(m.logger))
	m.box = newMailbox(cfg.EventBuffer)

	m.retries = retry.NewHandler(
		retry.WithClassifier(retry.NewClassifier(patterns...)),
		retry.WithBackoff(backoff.ExponentialFactory(cfg.MaxRetryDelay)),
		retry.WithLogger(m.logger),
	)
	for _, name := range slices.Sorted(maps.Keys(m.strategies)) {
		m.retries.Strategies().Register(name, m.strategies[name])
	}

	m.engine = worker.NewEngine(executors,
		worker.WithWorkers(cfg.MaxWorkers),
		worker.WithTracker(m.tracker),
		worker.WithListener(listener{m.box}),
		worker.WithMiddleware(append(m.defaultMiddleware(), m.mws...)...),
		worker.WithLogger(m.logger),
	)

	if cfg.EnableRecovery {
		if m.store == nil {
			fs, err := recovery.NewFileStore(cfg.StateDir)
			if err != nil {
				return nil, err
			}
			m.store = fs
		}
		m.recovery = recovery.NewManager(m.store, m.queue, m.tracker, recovery.WithLogger(m.logger))
	}
	return m, nil
}

// defaultMiddleware returns tracing, metrics and logging, in that order.
// The engine runs its panic recovery outside them.
func (m *Manager) defaultMiddleware() []mw.Middleware {
	tracing := mw.Tracing()
	if m.tracerProvider != nil {
		tracing = mw.TracingWithTracer(m.tracerProvider.Tracer("github.com/xraph/batch"))
	}
	metrics := mw.Metrics()
	if m.meterProvider != nil {
		metrics = mw.MetricsWithMeter(m.meterProvider.Meter("github.com/xraph/batch"))
	}
	return []mw.Middleware{tracing, metrics, mw.Logging(m.logger)}
}

func (m *Manager) metricsExtension() *observability.MetricsExtension {
	if m.meterProvider != nil {
		return observability.NewMetricsExtensionWithMeter(m.meterProvider.Meter("github.com/xraph/batch/observability"))
	}
	return observability.NewMetricsExtension()
}

// Extensions returns the extension registry.
func (m *Manager) Extensions() *ext.Registry { return m.exts }

// Engine returns the execution engine, for registering executors.
func (m *Manager) Engine() *worker.Engine { return m.engine }

// ──────────────────────────────────────────────────
// Processing lifecycle
// ──────────────────────────────────────────────────

// Start begins dispatching pending jobs. It returns ErrAlreadyRunning or
// ErrNoPendingJobs, leaving state untouched, when there is nothing to
// start. With recovery enabled the first Start opens a session.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return batch.ErrClosed
	case m.running:
		m.mu.Unlock()
		return batch.ErrAlreadyRunning
	}
	if _, ok := m.queue.NextPending(); !ok {
		m.mu.Unlock()
		return batch.ErrNoPendingJobs
	}
	m.running = true
	m.paused = false
	m.mu.Unlock()

	if err := m.boot(ctx); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}
	m.engine.Resume()
	m.tracker.StartQueue(m.queue.Counts().Pending)

	m.logger.Info("processing started",
		slog.Int("pending", m.queue.Counts().Pending),
		slog.Int("workers", m.cfg.MaxWorkers),
	)
	m.changed()
	m.kick()
	return nil
}

// boot starts the long-lived components once.
func (m *Manager) boot(ctx context.Context) error {
	m.bootMu.Lock()
	defer m.bootMu.Unlock()
	if m.booted {
		return nil
	}
	if m.recovery != nil && m.recovery.SessionID() == "" {
		if _, err := m.recovery.StartSession(ctx); err != nil {
			return fmt.Errorf("start recovery session: %w", err)
		}
	}
	if err := m.engine.Start(ctx); err != nil {
		return err
	}
	if err := m.delays.Start(ctx); err != nil {
		return err
	}
	if err := m.wakes.Start(ctx); err != nil {
		return err
	}
	go m.coordinate()
	m.booted = true
	return nil
}

// Pause stops new jobs from starting. Running jobs finish normally.
func (m *Manager) Pause() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return batch.ErrNotRunning
	}
	m.paused = true
	m.mu.Unlock()

	m.engine.Pause()
	m.logger.Info("processing paused")
	m.changed()
	return nil
}

// Resume lets new jobs start again.
func (m *Manager) Resume() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return batch.ErrNotRunning
	}
	m.paused = false
	m.mu.Unlock()

	m.engine.Resume()
	m.logger.Info("processing resumed")
	m.changed()
	m.kick()
	return nil
}

// Stop ends processing: running attempts are cancelled and their jobs
// return to the front of the pending list. It waits until the cancelled
// attempts have ended or ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return batch.ErrNotRunning
	}
	m.running = false
	m.paused = false
	ids := slices.Sorted(maps.Keys(m.inflight))
	for _, id := range ids {
		m.intents[id] = requeue
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.engine.Cancel(id)
	}
	m.engine.Resume()
	m.logger.Info("processing stopped", slog.Int("cancelled", len(ids)))
	m.changed()
	return m.waitFor(ctx, func() bool { return m.inflightCount() == 0 })
}

// IsRunning reports whether processing is started.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// IsPaused reports whether processing is paused.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Wait blocks until no job is running, dispatchable or waiting for a
// retry, or ctx is done. After Shutdown it returns ErrClosed if work was
// left undone.
func (m *Manager) Wait(ctx context.Context) error {
	var closed bool
	err := m.waitFor(ctx, func() bool {
		m.mu.Lock()
		closed = m.closed
		m.mu.Unlock()
		return closed || m.drained()
	})
	if err == nil && closed && !m.drained() {
		return batch.ErrClosed
	}
	return err
}

func (m *Manager) drained() bool {
	if m.inflightCount() > 0 || m.delays.Len() > 0 {
		return false
	}
	if m.queue.Counts().Running > 0 {
		return false
	}
	_, pending := m.queue.NextPending()
	return !pending
}

func (m *Manager) waitFor(ctx context.Context, cond func() bool) error {
	for {
		m.mu.Lock()
		ch := m.notify
		m.mu.Unlock()
		if cond() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) inflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Shutdown stops dispatching, drops all scheduled retries (their jobs
// return to pending) and shuts the engine down, letting running jobs
// finish until ctx is done. It then writes a final checkpoint, or ends
// the recovery session when no job is left pending.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.running = false
	m.paused = false
	m.mu.Unlock()

	m.logger.Info("manager shutting down")

	tasks := m.delays.Pending()
	m.delays.Stop(ctx)
	m.wakes.Stop(ctx)
	for _, t := range tasks {
		if j, ok := m.queue.Get(t.Key); ok && j.Status == job.StatusFailed {
			m.queue.UpdateState(t.Key, job.StatusPending, queue.AtFront())
			m.tracker.Reset(t.Key)
		}
	}
	if len(tasks) > 0 {
		m.logger.Info("scheduled retries dropped", slog.Int("count", len(tasks)))
	}

	var errs []error
	if err := m.engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	m.bootMu.Lock()
	booted := m.booted
	m.bootMu.Unlock()
	if booted {
		m.box.post(event{kind: evStop})
		<-m.coord
	}

	final := context.WithoutCancel(ctx)
	if m.recovery != nil && m.recovery.SessionID() != "" {
		c := m.queue.Counts()
		if c.Pending == 0 && c.Running == 0 && c.Cancelled == 0 {
			errs = append(errs, m.recovery.EndSession(final))
		} else {
			errs = append(errs, m.recovery.Checkpoint(final), m.recovery.Close())
		}
	}

	m.exts.EmitShutdown(final)
	m.cancel()
	m.broadcast()
	m.logger.Info("manager stopped")
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// State notification
// ──────────────────────────────────────────────────

// changed runs after every state-changing event: state observers are
// notified, a checkpoint is written when auto-save is on and waiters
// are woken.
func (m *Manager) changed() {
	if m.exts.HasStateObservers() {
		m.exts.EmitStateChanged(m.ctx, m.Summary())
	}
	m.checkpoint()
	m.broadcast()
}

func (m *Manager) checkpoint() {
	if m.recovery == nil || !m.cfg.AutoSave || m.recovery.SessionID() == "" {
		return
	}
	if err := m.recovery.Checkpoint(m.ctx); err != nil {
		m.logger.Warn("checkpoint failed", slog.Any("error", err))
	}
}

func (m *Manager) broadcast() {
	m.mu.Lock()
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()
}

// Summary returns a snapshot of the queue and processing state.
func (m *Manager) Summary() batch.Summary {
	c := m.queue.Counts()
	m.mu.Lock()
	running, paused := m.running, m.paused
	m.mu.Unlock()

	s := batch.Summary{
		Total:           c.Total,
		Pending:         c.Pending,
		Running:         c.Running,
		Completed:       c.Completed,
		Failed:          c.Failed,
		Cancelled:       c.Cancelled,
		IsRunning:       running,
		IsPaused:        paused,
		OverallProgress: m.tracker.Overall(),
		PendingRetries:  m.delays.Len(),
		Timestamp:       time.Now().UTC(),
	}
	if m.recovery != nil {
		s.SessionID = m.recovery.SessionID()
	}
	return s
}
