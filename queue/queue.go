package queue

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
)

// Event names the mutation an observer is notified about.
type Event string

// Queue events.
const (
	EventAdded     Event = "job_added"
	EventRemoved   Event = "job_removed"
	EventReordered Event = "job_reordered"
	EventUpdated   Event = "job_updated"
	EventRestored  Event = "job_restored"
	EventCleared   Event = "queue_cleared"
)

// Observer receives queue mutations. The job is a copy.
type Observer func(event Event, j job.Job)

// Counts is a snapshot of collection sizes.
type Counts struct {
	Total int
	// Pending counts dispatchable jobs only. Cancelled jobs parked in the
	// pending list are counted under Cancelled.
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used to report observer failures.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

type notice struct {
	event Event
	job   job.Job
}

// Queue is ordered, thread-safe job storage. Every stored job belongs to
// exactly one of the pending list, running set, completed set or failed
// set. It is safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*job.Job
	pending   []string
	running   map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}

	obsMu     sync.RWMutex
	observers []Observer

	logger *slog.Logger
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		jobs:      make(map[string]*job.Job),
		running:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddObserver registers an observer for every subsequent mutation.
func (q *Queue) AddObserver(o Observer) {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()
	q.observers = append(q.observers, o)
}

// ──────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────

// Add validates j and appends it to the pending list. It returns
// batch.ErrDuplicateJob if the ID is already stored and
// batch.ErrInvalidJob if validation fails; the stored job is unchanged
// in both cases.
func (q *Queue) Add(j job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	j = j.Clone()
	j.Status = job.StatusPending

	q.mu.Lock()
	if _, exists := q.jobs[j.ID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", batch.ErrDuplicateJob, j.ID)
	}
	q.jobs[j.ID] = &j
	q.pending = append(q.pending, j.ID)
	n := notice{EventAdded, j.Clone()}
	q.mu.Unlock()

	q.emit(n)
	return nil
}

// Restore inserts a job recovered from a checkpoint, placing it by its
// persisted status. Pending, running and cancelled jobs join the pending
// list in call order with their status untouched; completed and failed
// jobs go to their terminal sets.
func (q *Queue) Restore(j job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	j = j.Clone()
	if j.Status == "" {
		j.Status = job.StatusPending
	}

	q.mu.Lock()
	if _, exists := q.jobs[j.ID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", batch.ErrDuplicateJob, j.ID)
	}
	q.jobs[j.ID] = &j
	switch j.Status {
	case job.StatusCompleted:
		q.completed[j.ID] = struct{}{}
	case job.StatusFailed:
		q.failed[j.ID] = struct{}{}
	default:
		q.pending = append(q.pending, j.ID)
	}
	n := notice{EventRestored, j.Clone()}
	q.mu.Unlock()

	q.emit(n)
	return nil
}

// Remove deletes a job from whichever collection holds it.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	q.detach(id)
	delete(q.jobs, id)
	n := notice{EventRemoved, j.Clone()}
	q.mu.Unlock()

	q.emit(n)
	return true
}

// Reorder moves a pending job to newIndex in the pending list. The index
// is clamped to the valid range. It returns false if the job is not
// pending.
func (q *Queue) Reorder(id string, newIndex int) bool {
	q.mu.Lock()
	idx := slices.Index(q.pending, id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.pending = slices.Delete(q.pending, idx, idx+1)
	newIndex = max(0, min(newIndex, len(q.pending)))
	q.pending = slices.Insert(q.pending, newIndex, id)
	n := notice{EventReordered, q.jobs[id].Clone()}
	q.mu.Unlock()

	q.emit(n)
	return true
}

// UpdateOption adjusts an UpdateState call.
type UpdateOption func(*update)

type update struct {
	progress    *float64
	errMsg      *string
	startedAt   *time.Time
	completedAt *time.Time
	front       bool
}

// WithProgress records the job's progress percentage.
func WithProgress(p float64) UpdateOption {
	return func(u *update) { u.progress = &p }
}

// WithErrorMessage records the job's error message.
func WithErrorMessage(msg string) UpdateOption {
	return func(u *update) { u.errMsg = &msg }
}

// WithStartedAt records when the attempt started.
func WithStartedAt(t time.Time) UpdateOption {
	return func(u *update) { u.startedAt = &t }
}

// WithCompletedAt records when the attempt ended.
func WithCompletedAt(t time.Time) UpdateOption {
	return func(u *update) { u.completedAt = &t }
}

// AtFront places a job moving to pending at the head of the pending list.
func AtFront() UpdateOption {
	return func(u *update) { u.front = true }
}

// UpdateState sets a job's status and moves it to the matching
// collection. Moving to pending clears the previous attempt's
// timestamps and progress; a job already in the pending list keeps its
// position unless AtFront is given.
func (q *Queue) UpdateState(id string, status job.Status, opts ...UpdateOption) bool {
	if !status.Valid() {
		return false
	}
	var u update
	for _, opt := range opts {
		opt(&u)
	}

	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}

	if status == job.StatusPending {
		j.ResetAttempt()
	}
	j.Status = status
	if u.progress != nil {
		j.Progress = max(0, min(*u.progress, 100))
	}
	if u.errMsg != nil {
		j.ErrorMessage = *u.errMsg
	}
	if u.startedAt != nil {
		t := *u.startedAt
		j.StartedAt = &t
	}
	if u.completedAt != nil {
		t := *u.completedAt
		j.CompletedAt = &t
	}
	q.place(id, status, u.front)
	n := notice{EventUpdated, j.Clone()}
	q.mu.Unlock()

	q.emit(n)
	return true
}

// Mutate applies fn to the stored job under the queue lock. fn must not
// change the job's ID or status; use UpdateState for transitions.
func (q *Queue) Mutate(id string, fn func(j *job.Job)) bool {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	jid, status := j.ID, j.Status
	fn(j)
	j.ID, j.Status = jid, status
	n := notice{EventUpdated, j.Clone()}
	q.mu.Unlock()

	q.emit(n)
	return true
}

// Claim atomically selects the highest-priority pending job accepted by
// accept, moves it to the running set with status running and increments
// its attempt counter. A nil accept takes the first candidate. Jobs that
// accept rejects stay pending in place.
func (q *Queue) Claim(accept func(job.Job) bool) (job.Job, bool) {
	q.mu.Lock()
	var claimed *job.Job
	for _, id := range q.candidates() {
		j := q.jobs[id]
		if accept != nil && !accept(j.Clone()) {
			continue
		}
		j.Status = job.StatusRunning
		j.Attempt++
		q.place(id, job.StatusRunning, false)
		claimed = j
		break
	}
	if claimed == nil {
		q.mu.Unlock()
		return job.Job{}, false
	}
	out := claimed.Clone()
	q.mu.Unlock()

	q.emit(notice{EventUpdated, out.Clone()})
	return out, true
}

// ClearCompleted removes every completed, failed or cancelled job and
// returns how many were removed.
func (q *Queue) ClearCompleted() int {
	return q.ClearStatus(job.StatusCompleted, job.StatusFailed, job.StatusCancelled)
}

// ClearFailed removes every failed job.
func (q *Queue) ClearFailed() int {
	return q.ClearStatus(job.StatusFailed)
}

// ClearStatus removes every job whose status is one of statuses.
func (q *Queue) ClearStatus(statuses ...job.Status) int {
	q.mu.Lock()
	var notices []notice
	for id, j := range q.jobs {
		if !slices.Contains(statuses, j.Status) {
			continue
		}
		q.detach(id)
		delete(q.jobs, id)
		notices = append(notices, notice{EventRemoved, j.Clone()})
	}
	q.mu.Unlock()

	q.emit(notices...)
	return len(notices)
}

// Clear removes every job.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.jobs = make(map[string]*job.Job)
	q.pending = nil
	q.running = make(map[string]struct{})
	q.completed = make(map[string]struct{})
	q.failed = make(map[string]struct{})
	q.mu.Unlock()

	q.emit(notice{event: EventCleared})
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// NextPending returns the highest-priority pending job without removing
// it.
func (q *Queue) NextPending() (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.candidates()
	if len(ids) == 0 {
		return job.Job{}, false
	}
	return q.jobs[ids[0]].Clone(), true
}

// Get returns a copy of the job with the given ID.
func (q *Queue) Get(id string) (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return job.Job{}, false
	}
	return j.Clone(), true
}

// All returns copies of every job: the pending list in order, then
// running, completed and failed jobs by creation time.
func (q *Queue) All() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]job.Job, 0, len(q.jobs))
	for _, id := range q.pending {
		out = append(out, q.jobs[id].Clone())
	}
	for _, set := range []map[string]struct{}{q.running, q.completed, q.failed} {
		out = append(out, q.sorted(set)...)
	}
	return out
}

// PendingIDs returns the pending list in order.
func (q *Queue) PendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.pending)
}

// RunningIDs returns the IDs of running jobs.
func (q *Queue) RunningIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.running))
	for _, j := range q.sorted(q.running) {
		ids = append(ids, j.ID)
	}
	return ids
}

// Counts returns the size of every collection.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := Counts{
		Total:     len(q.jobs),
		Running:   len(q.running),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
	for _, id := range q.pending {
		if q.jobs[id].Status == job.StatusCancelled {
			c.Cancelled++
		} else {
			c.Pending++
		}
	}
	return c
}

// Len returns the number of stored jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// ──────────────────────────────────────────────────
// Internal helpers (caller holds q.mu)
// ──────────────────────────────────────────────────

// candidates returns dispatchable pending IDs ordered by priority
// descending. The sort is stable so ties keep list order.
func (q *Queue) candidates() []string {
	ids := make([]string, 0, len(q.pending))
	for _, id := range q.pending {
		if q.jobs[id].Status == job.StatusPending {
			ids = append(ids, id)
		}
	}
	slices.SortStableFunc(ids, func(a, b string) int {
		return cmp.Compare(q.jobs[b].Priority, q.jobs[a].Priority)
	})
	return ids
}

func (q *Queue) place(id string, status job.Status, front bool) {
	inPending := slices.Contains(q.pending, id)
	if inPending && (status == job.StatusPending || status == job.StatusCancelled) && !front {
		return
	}
	q.detach(id)
	switch status {
	case job.StatusRunning:
		q.running[id] = struct{}{}
	case job.StatusCompleted:
		q.completed[id] = struct{}{}
	case job.StatusFailed:
		q.failed[id] = struct{}{}
	default:
		if front {
			q.pending = slices.Insert(q.pending, 0, id)
		} else {
			q.pending = append(q.pending, id)
		}
	}
}

func (q *Queue) detach(id string) {
	if idx := slices.Index(q.pending, id); idx >= 0 {
		q.pending = slices.Delete(q.pending, idx, idx+1)
	}
	delete(q.running, id)
	delete(q.completed, id)
	delete(q.failed, id)
}

func (q *Queue) sorted(set map[string]struct{}) []job.Job {
	out := make([]job.Job, 0, len(set))
	for id := range set {
		out = append(out, q.jobs[id].Clone())
	}
	slices.SortFunc(out, func(a, b job.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (q *Queue) emit(notices ...notice) {
	if len(notices) == 0 {
		return
	}
	q.obsMu.RLock()
	observers := slices.Clone(q.observers)
	q.obsMu.RUnlock()

	for _, n := range notices {
		for _, o := range observers {
			q.notify(o, n)
		}
	}
}

func (q *Queue) notify(o Observer, n notice) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Warn("queue observer panicked",
				slog.String("event", string(n.event)),
				slog.String("job_id", n.job.ID),
				slog.Any("panic", r),
			)
		}
	}()
	o(n.event, n.job.Clone())
}
