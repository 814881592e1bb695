// Package progress turns raw per-job progress updates into time
// estimates and aggregate queue statistics. It performs no I/O.
package progress

import (
	"slices"
	"sync"
	"time"

	"github.com/xraph/batch/job"
)

// JobProgress is a snapshot of one tracked job.
type JobProgress struct {
	JobID       string        `json:"job_id"`
	JobType     job.Type      `json:"job_type"`
	Status      job.Status    `json:"status"`
	Progress    float64       `json:"progress"`
	Message     string        `json:"message,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Elapsed     time.Duration `json:"elapsed"`
	// Speed is percent per second, measured at the last update.
	Speed float64 `json:"processing_speed"`
}

// TimeRemaining estimates how long the job still needs. It reports false
// when no positive speed has been measured yet.
func (p JobProgress) TimeRemaining() (time.Duration, bool) {
	if p.Speed <= 0 {
		return 0, false
	}
	secs := (100 - p.Progress) / p.Speed
	return time.Duration(secs * float64(time.Second)), true
}

// Active reports whether the job is currently executing.
func (p JobProgress) Active() bool {
	return p.Status == job.StatusRunning
}

// QueueProgress aggregates all tracked jobs.
type QueueProgress struct {
	Total     int        `json:"total_jobs"`
	Completed int        `json:"completed_jobs"`
	Failed    int        `json:"failed_jobs"`
	Active    int        `json:"active_jobs"`
	Pending   int        `json:"pending_jobs"`
	Overall   float64    `json:"overall_progress"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Elapsed   time.Duration
	// EstimatedRemaining is unset until at least one duration is known.
	EstimatedRemaining *time.Duration
}

// Performance summarizes completed-job durations.
type Performance struct {
	Tracked         int
	InHistory       int
	AverageDuration time.Duration
	MedianDuration  time.Duration
	JobsPerHour     float64
	QueueStartedAt  *time.Time
	QueueElapsed    time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithHistory sets the capacity of the rolling duration history.
func WithHistory(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.history = newRing(n)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker records per-job progress and derives ETAs. It is safe for
// concurrent use.
type Tracker struct {
	mu         sync.Mutex
	jobs       map[string]*JobProgress
	history    *ring
	queueStart *time.Time
	queueTotal int
	now        func() time.Time
}

// NewTracker creates a tracker with a default history of 100 durations.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		jobs:    make(map[string]*JobProgress),
		history: newRing(100),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartQueue marks the start of a processing run over total jobs.
func (t *Tracker) StartQueue(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.queueStart = &now
	t.queueTotal = total
}

// Track registers a job without starting it. Tracking an already tracked
// job is a no-op.
func (t *Tracker) Track(j job.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[j.ID]; ok {
		return
	}
	t.jobs[j.ID] = &JobProgress{
		JobID:     j.ID,
		JobType:   j.Type,
		Status:    job.StatusPending,
		UpdatedAt: t.now(),
	}
}

// Start records the start of an attempt: progress zero, started now.
func (t *Tracker) Start(j job.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if j.StartedAt != nil {
		now = *j.StartedAt
	}
	t.jobs[j.ID] = &JobProgress{
		JobID:     j.ID,
		JobType:   j.Type,
		Status:    job.StatusRunning,
		StartedAt: &now,
		UpdatedAt: now,
	}
}

// Update records progress (clamped to 0-100) and an optional message,
// recomputing elapsed time and speed. It returns false for untracked
// jobs.
func (t *Tracker) Update(id string, progress float64, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[id]
	if !ok {
		return false
	}
	now := t.now()
	p.Progress = max(0, min(progress, 100))
	if message != "" {
		p.Message = message
	}
	p.UpdatedAt = now
	if p.StartedAt != nil {
		p.Elapsed = now.Sub(*p.StartedAt)
		if secs := p.Elapsed.Seconds(); secs > 0 {
			p.Speed = p.Progress / secs
		} else {
			p.Speed = 0
		}
	}
	return true
}

// Complete marks a job done and appends duration to the rolling history.
func (t *Tracker) Complete(id string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.ensure(id)
	now := t.now()
	p.Status = job.StatusCompleted
	p.Progress = 100
	p.CompletedAt = &now
	p.UpdatedAt = now
	p.Elapsed = duration
	p.Speed = 0
	t.history.push(duration)
}

// Fail marks a job failed.
func (t *Tracker) Fail(id, message string) {
	t.finish(id, job.StatusFailed, message)
}

// Cancel marks a job's attempt cancelled.
func (t *Tracker) Cancel(id string) {
	t.finish(id, job.StatusCancelled, "cancelled")
}

func (t *Tracker) finish(id string, status job.Status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.ensure(id)
	now := t.now()
	p.Status = status
	p.Message = message
	p.CompletedAt = &now
	p.UpdatedAt = now
	p.Speed = 0
}

// Reset zeroes a job's progress and clears its timestamps without
// forgetting the job. Recovery uses it to void stale in-flight progress.
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[id]
	if !ok {
		return
	}
	p.Status = job.StatusPending
	p.Progress = 0
	p.Message = ""
	p.StartedAt = nil
	p.CompletedAt = nil
	p.Elapsed = 0
	p.Speed = 0
	p.UpdatedAt = t.now()
}

// Restore re-creates a job's entry from checkpointed values.
func (t *Tracker) Restore(j job.Job, progress float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &JobProgress{
		JobID:     j.ID,
		JobType:   j.Type,
		Status:    j.Status,
		Progress:  max(0, min(progress, 100)),
		Message:   message,
		UpdatedAt: t.now(),
	}
	if j.StartedAt != nil {
		s := *j.StartedAt
		p.StartedAt = &s
	}
	if j.CompletedAt != nil {
		c := *j.CompletedAt
		p.CompletedAt = &c
	}
	t.jobs[j.ID] = p
}

// Remove forgets a job.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// ClearFinished forgets every completed, failed or cancelled job and
// returns how many were dropped. The duration history is kept.
func (t *Tracker) ClearFinished() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, p := range t.jobs {
		if p.Status.Finished() {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}

// Clear forgets every job and the queue start. The duration history is
// kept.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs = make(map[string]*JobProgress)
	t.queueStart = nil
	t.queueTotal = 0
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Get returns a snapshot of one job.
func (t *Tracker) Get(id string) (JobProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[id]
	if !ok {
		return JobProgress{}, false
	}
	return p.clone(), true
}

// ActiveJobs returns snapshots of running jobs ordered by start time.
func (t *Tracker) ActiveJobs() []JobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []JobProgress
	for _, p := range t.jobs {
		if p.Active() {
			out = append(out, p.clone())
		}
	}
	slices.SortFunc(out, func(a, b JobProgress) int {
		return startOf(a).Compare(startOf(b))
	})
	return out
}

// Overall returns the simple mean of every tracked job's progress. Each
// job weighs the same regardless of its expected duration.
func (t *Tracker) Overall() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall()
}

func (t *Tracker) overall() float64 {
	if len(t.jobs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range t.jobs {
		sum += p.Progress
	}
	return sum / float64(len(t.jobs))
}

// Progress returns the per-job progress map.
func (t *Tracker) Progress() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.jobs))
	for id, p := range t.jobs {
		out[id] = p.Progress
	}
	return out
}

// Messages returns the per-job last-message map. Jobs without a message
// are omitted.
func (t *Tracker) Messages() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.jobs))
	for id, p := range t.jobs {
		if p.Message != "" {
			out[id] = p.Message
		}
	}
	return out
}

// QueueProgress aggregates all tracked jobs.
func (t *Tracker) QueueProgress() QueueProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	qp := QueueProgress{Total: max(t.queueTotal, len(t.jobs)), Overall: t.overall()}
	for _, p := range t.jobs {
		switch p.Status {
		case job.StatusCompleted:
			qp.Completed++
		case job.StatusFailed:
			qp.Failed++
		case job.StatusRunning:
			qp.Active++
		}
	}
	qp.Pending = max(0, qp.Total-qp.Completed-qp.Failed-qp.Active)
	if t.queueStart != nil {
		s := *t.queueStart
		qp.StartedAt = &s
		qp.Elapsed = t.now().Sub(s)
	}
	if avg, ok := t.history.mean(); ok {
		remaining := time.Duration(qp.Pending+qp.Active) * avg
		qp.EstimatedRemaining = &remaining
	}
	return qp
}

// Performance summarizes the duration history.
func (t *Tracker) Performance() Performance {
	t.mu.Lock()
	defer t.mu.Unlock()

	perf := Performance{Tracked: len(t.jobs), InHistory: t.history.len()}
	if avg, ok := t.history.mean(); ok {
		perf.AverageDuration = avg
		perf.MedianDuration = t.history.median()
	}
	if t.queueStart != nil {
		s := *t.queueStart
		perf.QueueStartedAt = &s
		perf.QueueElapsed = t.now().Sub(s)
		if hours := perf.QueueElapsed.Hours(); hours > 0 {
			completed := 0
			for _, p := range t.jobs {
				if p.Status == job.StatusCompleted {
					completed++
				}
			}
			perf.JobsPerHour = float64(completed) / hours
		}
	}
	return perf
}

func startOf(p JobProgress) time.Time {
	if p.StartedAt == nil {
		return time.Time{}
	}
	return *p.StartedAt
}

// ensure returns the entry for id, creating a bare one if needed.
// Caller holds t.mu.
func (t *Tracker) ensure(id string) *JobProgress {
	p, ok := t.jobs[id]
	if !ok {
		p = &JobProgress{JobID: id}
		t.jobs[id] = p
	}
	return p
}

func (p *JobProgress) clone() JobProgress {
	c := *p
	if p.StartedAt != nil {
		s := *p.StartedAt
		c.StartedAt = &s
	}
	if p.CompletedAt != nil {
		e := *p.CompletedAt
		c.CompletedAt = &e
	}
	return c
}

// ring is a fixed-capacity duration history; the oldest entry is evicted
// when full.
type ring struct {
	buf  []time.Duration
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]time.Duration, capacity)}
}

func (r *ring) push(d time.Duration) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) values() []time.Duration {
	return slices.Clone(r.buf[:r.len()])
}

func (r *ring) mean() (time.Duration, bool) {
	n := r.len()
	if n == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range r.buf[:n] {
		sum += d
	}
	return sum / time.Duration(n), true
}

// median returns the upper median, sorted[n/2].
func (r *ring) median() time.Duration {
	v := r.values()
	if len(v) == 0 {
		return 0
	}
	slices.Sort(v)
	return v[len(v)/2]
}
