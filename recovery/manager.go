package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/batch"
	"github.com/xraph/batch/id"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/progress"
	"github.com/xraph/batch/queue"
)

// JobSource is the queue a Manager checkpoints and rebuilds.
type JobSource interface {
	All() []job.Job
	Clear()
	Restore(j job.Job) error
}

// ProgressSource is the tracker a Manager checkpoints and rebuilds.
type ProgressSource interface {
	Progress() map[string]float64
	Messages() map[string]string
	Overall() float64
	Clear()
	Restore(j job.Job, progress float64, message string)
	Reset(id string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager writes checkpoints of a queue and tracker and restores them.
type Manager struct {
	store    Store
	jobs     JobSource
	progress ProgressSource
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessionID string
	started   time.Time
}

// Recovered describes the outcome of RecoverSession.
type Recovered struct {
	SessionID string
	Jobs      []job.Job
	// Reset lists the jobs that were running at the checkpoint and have
	// been put back to pending.
	Reset []string
	// Skipped counts checkpointed jobs the queue refused.
	Skipped int
}

// NewManager creates a recovery manager over store.
func NewManager(store Store, jobs JobSource, tracker ProgressSource, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		jobs:     jobs,
		progress: tracker,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionID returns the current session, or "" before one is started.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// StartSession begins a new session, taking the store lock when the
// store supports one, and writes its metadata.
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lock(ctx); err != nil {
		return "", err
	}
	m.sessionID = id.NewSessionID().String()
	m.started = m.now().UTC()

	if err := m.writeSession(ctx, m.started, SessionActive); err != nil {
		return "", err
	}
	m.logger.Info("recovery session started", slog.String("session_id", m.sessionID))
	return m.sessionID, nil
}

// Checkpoint writes the queue and tracker state. A session is started
// first if none is active.
func (m *Manager) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == "" {
		if err := m.lock(ctx); err != nil {
			return err
		}
		m.sessionID = id.NewSessionID().String()
		m.started = m.now().UTC()
	}
	at := m.now().UTC()

	all := m.jobs.All()
	docs := map[string]any{
		MetadataFile: Metadata{
			SessionID:      m.sessionID,
			StartTime:      m.started,
			LastCheckpoint: at,
			Version:        FormatVersion,
		},
		SessionFile: Session{
			SessionID:      m.sessionID,
			StartTime:      m.started,
			CheckpointTime: at,
			Status:         SessionActive,
		},
		JobsFile: Jobs{
			Jobs:           all,
			QueueSize:      len(all),
			CheckpointTime: at,
		},
		ProgressFile: Progress{
			JobProgress:     m.progress.Progress(),
			JobMessages:     m.progress.Messages(),
			OverallProgress: m.progress.Overall(),
			CheckpointTime:  at,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, doc := range docs {
		g.Go(func() error { return m.write(gctx, name, doc) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.logger.Debug("checkpoint written",
		slog.String("session_id", m.sessionID),
		slog.Int("jobs", len(all)),
	)
	return nil
}

// CanRecover reports whether a complete and well-formed checkpoint
// exists.
func (m *Manager) CanRecover(ctx context.Context) bool {
	_, _, _, err := m.load(ctx)
	return err == nil
}

// RecoveryInfo summarizes the stored checkpoint without touching the
// queue.
func (m *Manager) RecoveryInfo(ctx context.Context) (Info, error) {
	meta, jobs, prog, err := m.load(ctx)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		SessionID:       meta.SessionID,
		StartTime:       meta.StartTime,
		LastCheckpoint:  meta.LastCheckpoint,
		TotalJobs:       len(jobs.Jobs),
		ByStatus:        make(map[job.Status]int),
		OverallProgress: prog.OverallProgress,
	}
	for _, j := range jobs.Jobs {
		info.ByStatus[j.Status]++
	}
	return info, nil
}

// RecoverSession replaces the queue and tracker contents with the stored
// checkpoint. Jobs that were running are reset to pending with their
// progress voided.
func (m *Manager) RecoverSession(ctx context.Context) (Recovered, error) {
	meta, jobs, prog, err := m.load(ctx)
	if err != nil {
		return Recovered{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lock(ctx); err != nil {
		return Recovered{}, err
	}

	m.jobs.Clear()
	m.progress.Clear()

	out := Recovered{SessionID: meta.SessionID}
	for _, j := range jobs.Jobs {
		interrupted := j.Status == job.StatusRunning
		if interrupted {
			j.ResetAttempt()
		}
		if err := m.jobs.Restore(j); err != nil {
			out.Skipped++
			m.logger.Warn("checkpointed job not restored",
				slog.String("job_id", j.ID),
				slog.Any("error", err),
			)
			continue
		}
		m.progress.Restore(j, prog.JobProgress[j.ID], prog.JobMessages[j.ID])
		if interrupted {
			m.progress.Reset(j.ID)
			out.Reset = append(out.Reset, j.ID)
		}
		out.Jobs = append(out.Jobs, j)
	}

	m.sessionID = meta.SessionID
	m.started = meta.StartTime
	if err := m.writeSession(ctx, meta.LastCheckpoint, SessionRecovered); err != nil {
		m.logger.Warn("session status not updated", slog.Any("error", err))
	}

	m.logger.Info("session recovered",
		slog.String("session_id", out.SessionID),
		slog.Int("jobs", len(out.Jobs)),
		slog.Int("reset", len(out.Reset)),
		slog.Int("skipped", out.Skipped),
	)
	return out, nil
}

// EndSession deletes the checkpoint so the next launch starts fresh, and
// releases the store lock.
func (m *Manager) EndSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.store.Delete(ctx, Documents...)
	if err == nil && m.sessionID != "" {
		m.logger.Info("recovery session ended", slog.String("session_id", m.sessionID))
	}
	m.sessionID = ""
	m.started = time.Time{}
	return errors.Join(err, m.unlock())
}

// Close releases the store lock and keeps the checkpoint.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlock()
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

func (m *Manager) lock(ctx context.Context) error {
	if l, ok := m.store.(Locker); ok {
		return l.Lock(ctx)
	}
	return nil
}

func (m *Manager) unlock() error {
	if l, ok := m.store.(Locker); ok {
		return l.Unlock()
	}
	return nil
}

// writeSession writes metadata.json and session.json. Callers hold mu.
func (m *Manager) writeSession(ctx context.Context, checkpoint time.Time, status string) error {
	meta := Metadata{
		SessionID:      m.sessionID,
		StartTime:      m.started,
		LastCheckpoint: checkpoint,
		Version:        FormatVersion,
	}
	sess := Session{
		SessionID:      m.sessionID,
		StartTime:      m.started,
		CheckpointTime: checkpoint,
		Status:         status,
	}
	if err := m.write(ctx, MetadataFile, meta); err != nil {
		return err
	}
	return m.write(ctx, SessionFile, sess)
}

func (m *Manager) write(ctx context.Context, name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("recovery: encode %s: %w", name, err)
	}
	return m.store.Write(ctx, name, data)
}

func (m *Manager) read(ctx context.Context, name string, into any) error {
	data, err := m.store.Read(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("recovery: decode %s: %w", name, err)
	}
	return nil
}

// load reads and validates the checkpoint. session.json is optional but
// must decode when present.
func (m *Manager) load(ctx context.Context) (Metadata, Jobs, Progress, error) {
	var (
		meta Metadata
		jobs Jobs
		prog Progress
		sess Session
	)
	for name, into := range map[string]any{MetadataFile: &meta, JobsFile: &jobs, ProgressFile: &prog} {
		if err := m.read(ctx, name, into); err != nil {
			return meta, jobs, prog, fmt.Errorf("%w: %w", batch.ErrNoRecoverableSession, err)
		}
	}
	if err := m.read(ctx, SessionFile, &sess); err != nil && !errors.Is(err, ErrNotFound) {
		return meta, jobs, prog, fmt.Errorf("%w: %w", batch.ErrNoRecoverableSession, err)
	}
	if meta.SessionID == "" {
		return meta, jobs, prog, fmt.Errorf("%w: metadata has no session id", batch.ErrNoRecoverableSession)
	}
	seen := make(map[string]struct{}, len(jobs.Jobs))
	for _, j := range jobs.Jobs {
		if err := j.Validate(); err != nil {
			return meta, jobs, prog, fmt.Errorf("%w: %w", batch.ErrNoRecoverableSession, err)
		}
		if _, dup := seen[j.ID]; dup {
			return meta, jobs, prog, fmt.Errorf("%w: duplicate job %s", batch.ErrNoRecoverableSession, j.ID)
		}
		seen[j.ID] = struct{}{}
	}
	return meta, jobs, prog, nil
}

// Compile-time interface checks.
var (
	_ JobSource      = (*queue.Queue)(nil)
	_ ProgressSource = (*progress.Tracker)(nil)
)
