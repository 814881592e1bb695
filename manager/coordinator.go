package manager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/queue"
	"github.com/xraph/batch/retry"
	"github.com/xraph/batch/worker"
)

type eventKind int

const (
	evDispatch eventKind = iota
	evStarted
	evProgress
	evCompleted
	evFailed
	evCancelled
	evRetryDue
	evStop
)

type event struct {
	kind     eventKind
	job      job.Job
	progress float64
	message  string
	result   *job.Result
	err      *job.Error
	jobID    string
}

// mailbox is an unbounded FIFO of events with a single consumer.
// Posting never blocks, so engine callbacks cannot stall a worker.
type mailbox struct {
	mu    sync.Mutex
	items []event
	size  int
	wake  chan struct{}
}

func newMailbox(size int) *mailbox {
	return &mailbox{
		items: make([]event, 0, size),
		size:  size,
		wake:  make(chan struct{}, 1),
	}
}

func (b *mailbox) post(e event) {
	b.mu.Lock()
	b.items = append(b.items, e)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *mailbox) drain() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = make([]event, 0, b.size)
	return items
}

// listener forwards engine callbacks to the mailbox.
type listener struct{ box *mailbox }

var _ worker.Listener = listener{}

func (l listener) JobStarted(j job.Job) {
	l.box.post(event{kind: evStarted, job: j})
}

func (l listener) JobProgress(j job.Job, p float64, msg string) {
	l.box.post(event{kind: evProgress, job: j, progress: p, message: msg})
}

func (l listener) JobCompleted(j job.Job, res *job.Result) {
	l.box.post(event{kind: evCompleted, job: j, result: res})
}

func (l listener) JobFailed(j job.Job, err *job.Error) {
	l.box.post(event{kind: evFailed, job: j, err: err})
}

func (l listener) JobCancelled(j job.Job) {
	l.box.post(event{kind: evCancelled, job: j})
}

func (m *Manager) kick() { m.box.post(event{kind: evDispatch}) }

// ──────────────────────────────────────────────────
// Coordinator
// ──────────────────────────────────────────────────

func (m *Manager) coordinate() {
	defer close(m.coord)
	for range m.box.wake {
		for _, ev := range m.box.drain() {
			if ev.kind == evStop {
				return
			}
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evStarted:
		m.onStarted(ev.job)
	case evProgress:
		m.onProgress(ev.job, ev.progress, ev.message)
		return
	case evCompleted:
		m.onCompleted(ev.job, ev.result)
	case evFailed:
		m.onFailed(ev.job, ev.err)
	case evCancelled:
		m.onCancelled(ev.job)
	case evRetryDue:
		m.onRetryDue(ev.jobID)
	}
	m.dispatch()
}

// dispatch claims pending jobs and submits them while worker slots are
// free. Only the coordinator calls it.
func (m *Manager) dispatch() {
	for {
		m.mu.Lock()
		open := m.running && !m.paused && !m.closed && len(m.inflight) < m.cfg.MaxWorkers
		m.mu.Unlock()
		if !open {
			return
		}

		var refused []string
		j, ok := m.queue.Claim(func(c job.Job) bool {
			if m.limiter.Acquire(string(c.Type)) {
				return true
			}
			refused = append(refused, string(c.Type))
			return false
		})
		if !ok {
			m.wakeForLimits(refused)
			return
		}
		m.mu.Lock()
		m.tokens++
		j.Token = m.tokens
		m.inflight[j.ID] = j.Token
		m.mu.Unlock()

		if _, err := m.engine.Submit(j); err != nil {
			m.mu.Lock()
			delete(m.inflight, j.ID)
			m.mu.Unlock()
			m.limiter.Release(string(j.Type))

			if errors.Is(err, batch.ErrExecutorNotFound) {
				m.logger.Error("no executor for job",
					slog.String("job_id", j.ID),
					slog.String("job_type", string(j.Type)),
				)
				m.judge(j, job.Errorf(job.CodeExecutorNotFound, "no executor for job type %q", j.Type))
				continue
			}
			m.queue.UpdateState(j.ID, job.StatusPending, queue.AtFront())
			m.logger.Warn("job not submitted", slog.String("job_id", j.ID), slog.Any("error", err))
			return
		}
	}
}

// wakeForLimits schedules another dispatch for each rate limited job
// type that held back a pending job. Types held back by their
// concurrency cap are woken by the next attempt that ends.
func (m *Manager) wakeForLimits(types []string) {
	for _, t := range types {
		d := m.limiter.NextAllowed(t)
		if d <= 0 || m.wakes.Has(t) {
			continue
		}
		if _, err := m.wakes.Schedule(t, d, m.kick); err != nil {
			return
		}
		m.logger.Debug("dispatch deferred by rate limit",
			slog.String("job_type", t),
			slog.Duration("delay", d),
		)
	}
}

// current reports whether j is the in-flight attempt of its job.
// Callbacks of superseded attempts are dropped.
func (m *Manager) current(j job.Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.inflight[j.ID]
	return ok && token == j.Token
}

// finish ends the in-flight attempt of j and releases its slot. It
// reports false for a stale attempt.
func (m *Manager) finish(j job.Job) (cancelIntent, bool) {
	m.mu.Lock()
	token, ok := m.inflight[j.ID]
	if !ok || token != j.Token {
		m.mu.Unlock()
		return requeue, false
	}
	delete(m.inflight, j.ID)
	intent := m.intents[j.ID]
	delete(m.intents, j.ID)
	m.mu.Unlock()

	m.limiter.Release(string(j.Type))
	return intent, true
}

func (m *Manager) onStarted(j job.Job) {
	if !m.current(j) {
		return
	}
	opts := []queue.UpdateOption{queue.WithProgress(0)}
	if j.StartedAt != nil {
		opts = append(opts, queue.WithStartedAt(*j.StartedAt))
	}
	m.queue.UpdateState(j.ID, job.StatusRunning, opts...)
	m.exts.EmitJobStarted(m.ctx, &j)
	m.changed()
}

func (m *Manager) onProgress(j job.Job, p float64, msg string) {
	if !m.current(j) {
		return
	}
	m.queue.Mutate(j.ID, func(s *job.Job) { s.Progress = p })
	m.exts.EmitJobProgress(m.ctx, &j, p, msg)
}

func (m *Manager) onCompleted(j job.Job, res *job.Result) {
	if _, ok := m.finish(j); !ok {
		return
	}
	opts := []queue.UpdateOption{queue.WithProgress(100), queue.WithErrorMessage("")}
	if j.StartedAt != nil {
		opts = append(opts, queue.WithStartedAt(*j.StartedAt))
	}
	if j.CompletedAt != nil {
		opts = append(opts, queue.WithCompletedAt(*j.CompletedAt))
	}
	m.queue.UpdateState(j.ID, job.StatusCompleted, opts...)
	m.tracker.Complete(j.ID, res.ExecutionTime)
	m.retries.HandleSuccess(j.ID)

	m.logger.Info("job completed",
		slog.String("job_id", j.ID),
		slog.String("job_type", string(j.Type)),
		slog.Duration("execution_time", res.ExecutionTime),
	)
	m.exts.EmitJobCompleted(m.ctx, &j, res)
	m.changed()
}

func (m *Manager) onFailed(j job.Job, jerr *job.Error) {
	if _, ok := m.finish(j); !ok {
		return
	}
	m.judge(j, jerr)
}

// judge asks the retry handler what to do with a failed attempt and
// applies the verdict.
func (m *Manager) judge(j job.Job, jerr *job.Error) {
	stored, ok := m.queue.Get(j.ID)
	if !ok {
		return
	}
	v := m.retries.Handle(m.ctx, &stored, jerr)
	m.queue.Mutate(j.ID, func(s *job.Job) { s.Options = stored.Options })

	msg := v.Message
	if msg == "" {
		msg = jerr.Error()
	}
	opts := []queue.UpdateOption{
		queue.WithErrorMessage(msg),
		queue.WithCompletedAt(time.Now().UTC()),
	}
	if j.StartedAt != nil {
		opts = append(opts, queue.WithStartedAt(*j.StartedAt))
	}
	m.queue.UpdateState(j.ID, job.StatusFailed, opts...)
	m.tracker.Fail(j.ID, msg)
	j.Status = job.StatusFailed
	j.ErrorMessage = msg
	j.Options = stored.Options

	if v.Action == retry.ActionFail {
		m.logger.Warn("job failed",
			slog.String("job_id", j.ID),
			slog.String("job_type", string(j.Type)),
			slog.String("error", msg),
		)
		m.exts.EmitJobFailed(m.ctx, &j, jerr)
		m.changed()
		return
	}

	id := j.ID
	due, err := m.delays.Schedule(id, v.Delay, func() {
		m.box.post(event{kind: evRetryDue, jobID: id})
	})
	if err != nil {
		// Shutting down: leave the job for the next session.
		m.queue.UpdateState(id, job.StatusPending, queue.AtFront())
		m.tracker.Reset(id)
		m.changed()
		return
	}
	m.logger.Info("retry scheduled",
		slog.String("job_id", id),
		slog.String("action", string(v.Action)),
		slog.Int("retry_count", v.RetryCount),
		slog.Duration("delay", v.Delay),
	)
	m.exts.EmitJobRetrying(m.ctx, &j, v.RetryCount, due)
	m.changed()
}

func (m *Manager) onCancelled(j job.Job) {
	intent, ok := m.finish(j)
	if !ok {
		return
	}
	if intent == userCancel {
		m.queue.UpdateState(j.ID, job.StatusCancelled, queue.WithProgress(j.Progress))
		m.tracker.Cancel(j.ID)
	} else {
		m.queue.UpdateState(j.ID, job.StatusPending, queue.AtFront())
		m.tracker.Reset(j.ID)
	}
	m.logger.Info("job cancelled", slog.String("job_id", j.ID))
	m.exts.EmitJobCancelled(m.ctx, &j)
	m.changed()
}

func (m *Manager) onRetryDue(id string) {
	j, ok := m.queue.Get(id)
	if !ok || j.Status != job.StatusFailed {
		return
	}
	m.queue.UpdateState(id, job.StatusPending, queue.AtFront())
	m.tracker.Reset(id)
	m.logger.Debug("retry due", slog.String("job_id", id))
	m.changed()
}
