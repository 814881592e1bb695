package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/progress"
	"github.com/xraph/batch/queue"
	"github.com/xraph/batch/retry"
	"github.com/xraph/batch/scan"
)

// AddJob queues j. It returns ErrDuplicateJob, leaving the stored job
// unchanged, when the ID is taken.
func (m *Manager) AddJob(ctx context.Context, j job.Job) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return batch.ErrClosed
	}
	if err := m.queue.Add(j); err != nil {
		return err
	}
	stored, _ := m.queue.Get(j.ID)
	m.tracker.Track(stored)

	m.logger.Debug("job added",
		slog.String("job_id", stored.ID),
		slog.String("job_type", string(stored.Type)),
		slog.Int("priority", stored.Priority),
	)
	m.exts.EmitJobAdded(ctx, &stored)
	m.changed()
	m.kick()
	return nil
}

// AddJobs queues every job it can and returns how many were added along
// with the joined errors of the rest.
func (m *Manager) AddJobs(ctx context.Context, jobs ...job.Job) (int, error) {
	var (
		added int
		errs  []error
	)
	for _, j := range jobs {
		if err := m.AddJob(ctx, j); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// ScanRequest describes jobs to create from discovered files.
type ScanRequest struct {
	// Paths are files or directories to scan.
	Paths []string
	// Type is the job type of every created job.
	Type job.Type
	// OutputDir receives the outputs. Empty means next to each input.
	OutputDir string
	// OutputExt is the output file extension. Defaults to ".json".
	OutputExt string
	// Recursive descends into subdirectories.
	Recursive bool
	// Extensions filters inputs. Defaults to scan.DefaultExtensions.
	Extensions []string
	Priority   int
	Options    map[string]any
}

// ScanAndAddJobs discovers input files and queues one job per file.
// Files that already have a queued job with the same input are skipped.
func (m *Manager) ScanAndAddJobs(ctx context.Context, req ScanRequest) ([]job.Job, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("%w: scan request without job type", batch.ErrInvalidJob)
	}
	opts := []scan.Option{scan.Recursive(req.Recursive)}
	if len(req.Extensions) > 0 {
		opts = append(opts, scan.WithExtensions(req.Extensions...))
	}
	files, err := scan.Paths(ctx, req.Paths, opts...)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{})
	for _, j := range m.queue.All() {
		if j.Type == req.Type {
			known[j.Input] = struct{}{}
		}
	}

	ext := req.OutputExt
	if ext == "" {
		ext = ".json"
	}
	var (
		added []job.Job
		errs  []error
	)
	for _, file := range files {
		if _, dup := known[file]; dup {
			continue
		}
		dir := req.OutputDir
		if dir == "" {
			dir = filepath.Dir(file)
		}
		base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		j := job.New(req.Type, file, filepath.Join(dir, base+ext),
			job.WithPriority(req.Priority),
			job.WithOptions(req.Options),
			job.WithMetadata("source", "scan"),
		)
		if err := m.AddJob(ctx, j); err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, j)
	}
	m.logger.Info("inputs scanned",
		slog.Int("found", len(files)),
		slog.Int("added", len(added)),
	)
	return added, errors.Join(errs...)
}

// RemoveJob deletes a job. A running attempt is cancelled and its
// outcome ignored; a scheduled retry is dropped.
func (m *Manager) RemoveJob(id string) error {
	if _, ok := m.queue.Get(id); !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	m.forget(id)
	m.queue.Remove(id)
	m.tracker.Remove(id)
	m.changed()
	m.kick()
	return nil
}

// forget drops every piece of per-job state outside the queue.
func (m *Manager) forget(id string) {
	m.mu.Lock()
	_, running := m.inflight[id]
	delete(m.inflight, id)
	delete(m.intents, id)
	m.mu.Unlock()

	if running {
		if j, ok := m.queue.Get(id); ok {
			m.limiter.Release(string(j.Type))
		}
		m.engine.Cancel(id)
	}
	m.delays.Cancel(id)
	m.retries.Forget(id)
}

// CancelJob cancels a job without removing it. A pending or
// retry-waiting job is cancelled at once; a running attempt is asked to
// stop and the job is cancelled when it does. Cancelled jobs stay in the
// pending list until retried or removed.
func (m *Manager) CancelJob(id string) error {
	j, ok := m.queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}

	m.mu.Lock()
	_, running := m.inflight[id]
	if running {
		m.intents[id] = userCancel
	}
	m.mu.Unlock()
	if running {
		m.engine.Cancel(id)
		return nil
	}

	switch j.Status {
	case job.StatusCompleted, job.StatusCancelled:
		return fmt.Errorf("%w: %s is %s", batch.ErrInvalidJob, id, j.Status)
	}
	m.delays.Cancel(id)
	m.queue.UpdateState(id, job.StatusCancelled)
	m.tracker.Cancel(id)
	m.exts.EmitJobCancelled(m.ctx, &j)
	m.changed()
	return nil
}

// ReorderJob moves a pending job to index in the pending list. Dispatch
// still prefers higher priorities, so the position only orders jobs of
// equal priority.
func (m *Manager) ReorderJob(id string, index int) error {
	if _, ok := m.queue.Get(id); !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	if !m.queue.Reorder(id, index) {
		return fmt.Errorf("%w: %s is not pending", batch.ErrInvalidJob, id)
	}
	m.changed()
	return nil
}

// RetryFailedJob requeues a failed or cancelled job at the back of the
// pending list with its retry counter reset.
func (m *Manager) RetryFailedJob(id string) error {
	j, ok := m.queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	if j.Status != job.StatusFailed && j.Status != job.StatusCancelled {
		return fmt.Errorf("%w: %s is %s", batch.ErrInvalidJob, id, j.Status)
	}
	m.delays.Cancel(id)
	m.retries.Forget(id)
	m.queue.Mutate(id, func(s *job.Job) { s.ErrorMessage = "" })
	m.queue.UpdateState(id, job.StatusPending)
	m.tracker.Reset(id)

	m.logger.Info("job requeued", slog.String("job_id", id))
	m.changed()
	m.kick()
	return nil
}

// ClearCompleted removes every completed job and returns how many.
func (m *Manager) ClearCompleted() int {
	return m.clear(job.StatusCompleted)
}

// ClearFailed removes every failed job, including those waiting for a
// retry, and returns how many.
func (m *Manager) ClearFailed() int {
	return m.clear(job.StatusFailed)
}

func (m *Manager) clear(status job.Status) int {
	n := 0
	for _, j := range m.queue.All() {
		if j.Status != status {
			continue
		}
		m.forget(j.ID)
		if m.queue.Remove(j.ID) {
			m.tracker.Remove(j.ID)
			n++
		}
	}
	if n > 0 {
		m.changed()
	}
	return n
}

// Job returns a copy of one job.
func (m *Manager) Job(id string) (job.Job, bool) {
	return m.queue.Get(id)
}

// Jobs returns copies of every job: pending in list order, then
// running, completed and failed.
func (m *Manager) Jobs() []job.Job {
	return m.queue.All()
}

// Retry describes a scheduled retry.
type Retry struct {
	JobID string
	Due   time.Time
}

// PendingRetries lists scheduled retries, soonest first.
func (m *Manager) PendingRetries() []Retry {
	tasks := m.delays.Pending()
	out := make([]Retry, len(tasks))
	for i, t := range tasks {
		out[i] = Retry{JobID: t.Key, Due: t.Due}
	}
	return out
}

// ErrorStats returns the retry handler's counters.
func (m *Manager) ErrorStats() retry.Stats {
	return m.retries.Stats()
}

// Performance returns execution time statistics.
func (m *Manager) Performance() progress.Performance {
	return m.tracker.Performance()
}

// QueueProgress returns aggregate progress and the remaining time
// estimate.
func (m *Manager) QueueProgress() progress.QueueProgress {
	return m.tracker.QueueProgress()
}

// JobProgress returns the tracked progress of one job.
func (m *Manager) JobProgress(id string) (progress.JobProgress, bool) {
	return m.tracker.Get(id)
}

// Counts returns the size of each collection.
func (m *Manager) Counts() queue.Counts {
	return m.queue.Counts()
}
