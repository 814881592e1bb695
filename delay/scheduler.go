// Package delay provides a single-goroutine scheduler for delayed tasks,
// such as job retries waiting out their backoff. Pending tasks live in
// one deadline-ordered heap, so they can be listed and cancelled as a
// group.
package delay

import (
	"container/heap"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/xraph/batch"
)

// Task describes a scheduled task.
type Task struct {
	Key string
	Due time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs functions after a delay, keyed by a caller-chosen name.
// Scheduling a key that is already pending replaces the earlier task.
// Task functions run on the scheduler goroutine and must not block.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   taskHeap
	byKey   map[string]*entry
	started bool
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler. Tasks scheduled before Start fire once it
// runs.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: slog.Default(),
		byKey:  make(map[string]*entry),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return batch.ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the scheduler and drops all pending tasks without running
// them. It returns the number of tasks dropped.
func (s *Scheduler) Stop(_ context.Context) int {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	s.stopped = true
	dropped := len(s.tasks)
	s.tasks = nil
	clear(s.byKey)
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	if dropped > 0 {
		s.logger.Info("delayed tasks dropped", slog.Int("count", dropped))
	}
	return dropped
}

// Schedule runs fn after d under key, replacing any pending task with
// the same key.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) (time.Time, error) {
	due := time.Now().Add(max(d, 0))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return time.Time{}, batch.ErrClosed
	}
	if old, ok := s.byKey[key]; ok {
		heap.Remove(&s.tasks, old.index)
	}
	e := &entry{key: key, due: due, fn: fn}
	heap.Push(&s.tasks, e)
	s.byKey[key] = e
	s.mu.Unlock()

	s.notify()
	return due, nil
}

// Cancel drops the pending task under key. It reports whether one was
// pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.tasks, e.index)
	delete(s.byKey, key)
	return true
}

// CancelAll drops every pending task and returns how many there were.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tasks)
	s.tasks = nil
	clear(s.byKey)
	return n
}

// Pending lists pending tasks in due order.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, Task{Key: e.key, Due: e.due})
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Task) int { return a.Due.Compare(b.Due) })
	return out
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Has reports whether a task is pending under key.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[key]
	return ok
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		due, wait := s.popDue(time.Now())
		for _, e := range due {
			s.fire(e)
		}
		if len(due) > 0 {
			continue
		}

		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-timerC:
		}
		timer.Stop()
	}
}

// popDue removes tasks due at now. wait is the time until the next task,
// or -1 when none is pending.
func (s *Scheduler) popDue(now time.Time) (due []*entry, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.tasks) > 0 && !s.tasks[0].due.After(now) {
		e := heap.Pop(&s.tasks).(*entry)
		delete(s.byKey, e.key)
		due = append(due, e)
	}
	if len(s.tasks) == 0 {
		return due, -1
	}
	return due, s.tasks[0].due.Sub(now)
}

func (s *Scheduler) fire(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("delayed task panicked",
				slog.String("key", e.key),
				slog.Any("panic", r),
			)
		}
	}()
	e.fn()
}

// ──────────────────────────────────────────────────
// Heap
// ──────────────────────────────────────────────────

type entry struct {
	key   string
	due   time.Time
	fn    func()
	index int
}

type taskHeap []*entry

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
