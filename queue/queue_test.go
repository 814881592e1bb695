package queue_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
	"github.com/xraph/batch/queue"
)

func newJob(id string, priority int) job.Job {
	return job.New(job.TypeMock, id+".stl", id+".out",
		job.WithID(id),
		job.WithPriority(priority),
	)
}

func mustAdd(t *testing.T, q *queue.Queue, j job.Job) {
	t.Helper()
	if err := q.Add(j); err != nil {
		t.Fatalf("add %s: %v", j.ID, err)
	}
}

func TestAdd_DuplicateRejected(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("j1", 1))

	dup := newJob("j1", 9)
	err := q.Add(dup)
	if !errors.Is(err, batch.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	got, _ := q.Get("j1")
	if got.Priority != 1 {
		t.Errorf("original job changed: priority %d", got.Priority)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 job, got %d", q.Len())
	}
}

func TestAdd_InvalidRejected(t *testing.T) {
	q := queue.New()
	j := newJob("j1", 0)
	j.Output = ""

	if err := q.Add(j); !errors.Is(err, batch.ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("invalid job should not be stored")
	}
}

func TestNextPending_PriorityThenInsertionOrder(t *testing.T) {
	q := queue.New()
	priorities := []int{1, 5, 5, 3}
	for i, p := range priorities {
		mustAdd(t, q, newJob(fmt.Sprintf("j%d", i), p))
	}

	want := []string{"j1", "j2", "j3", "j0"}
	for _, id := range want {
		next, ok := q.NextPending()
		if !ok {
			t.Fatal("expected a pending job")
		}
		if next.ID != id {
			t.Fatalf("expected %s, got %s", id, next.ID)
		}
		// NextPending does not remove; dispatch does.
		if _, ok := q.Claim(nil); !ok {
			t.Fatal("expected claim to succeed")
		}
	}
	if _, ok := q.NextPending(); ok {
		t.Fatal("queue should have no pending jobs left")
	}
}

func TestNextPending_DoesNotRemove(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("j1", 0))

	for range 3 {
		if next, ok := q.NextPending(); !ok || next.ID != "j1" {
			t.Fatalf("expected j1, got %v %v", next.ID, ok)
		}
	}
	if c := q.Counts(); c.Pending != 1 {
		t.Fatalf("expected 1 pending, got %d", c.Pending)
	}
}

func TestClaim_MovesToRunning(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("j1", 0))

	claimed, ok := q.Claim(nil)
	if !ok {
		t.Fatal("expected claim")
	}
	if claimed.Status != job.StatusRunning || claimed.Attempt != 1 {
		t.Fatalf("unexpected claimed job: status=%s attempt=%d", claimed.Status, claimed.Attempt)
	}
	c := q.Counts()
	if c.Pending != 0 || c.Running != 1 {
		t.Fatalf("unexpected counts %+v", c)
	}
	if len(q.All()) != 1 {
		t.Fatal("claimed job must stay visible")
	}
}

func TestClaim_AcceptSkipsWithoutReordering(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("render", 5))
	mustAdd(t, q, newJob("other", 1))

	claimed, ok := q.Claim(func(j job.Job) bool { return j.ID != "render" })
	if !ok || claimed.ID != "other" {
		t.Fatalf("expected other to be claimed, got %q", claimed.ID)
	}
	if ids := q.PendingIDs(); len(ids) != 1 || ids[0] != "render" {
		t.Fatalf("expected render still pending, got %v", ids)
	}
}

func TestReorder_Clamped(t *testing.T) {
	q := queue.New()
	for _, id := range []string{"a", "b", "c"} {
		mustAdd(t, q, newJob(id, 0))
	}

	if !q.Reorder("a", 99) {
		t.Fatal("reorder should succeed")
	}
	assertPending(t, q, "b", "c", "a")

	if !q.Reorder("a", -5) {
		t.Fatal("reorder should succeed")
	}
	assertPending(t, q, "a", "b", "c")

	// Equal priority ties follow list position.
	q.Reorder("c", 0)
	if next, _ := q.NextPending(); next.ID != "c" {
		t.Fatalf("expected c first after reorder, got %s", next.ID)
	}

	if q.Reorder("missing", 0) {
		t.Fatal("reorder of unknown job should fail")
	}
}

func TestUpdateState_MovesBetweenCollections(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("a", 0))
	mustAdd(t, q, newJob("b", 0))

	q.Claim(nil)
	if !q.UpdateState("a", job.StatusFailed, queue.WithErrorMessage("boom"), queue.WithProgress(30)) {
		t.Fatal("update should succeed")
	}
	got, _ := q.Get("a")
	if got.ErrorMessage != "boom" || got.Progress != 30 {
		t.Fatalf("update options not applied: %+v", got)
	}
	if c := q.Counts(); c.Failed != 1 || c.Pending != 1 || c.Running != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}

	// Retry edge: FAILED -> PENDING at the front, attempt state cleared.
	q.UpdateState("a", job.StatusPending, queue.AtFront())
	assertPending(t, q, "a", "b")
	got, _ = q.Get("a")
	if got.Progress != 0 || got.StartedAt != nil {
		t.Fatalf("attempt state not cleared: %+v", got)
	}
	if got.ErrorMessage != "boom" {
		t.Error("last error message should be kept")
	}

	if q.UpdateState("missing", job.StatusFailed) {
		t.Fatal("update of unknown job should fail")
	}
	if q.UpdateState("a", job.Status("bogus")) {
		t.Fatal("update to unknown status should fail")
	}
}

func TestUpdateState_PendingKeepsPosition(t *testing.T) {
	q := queue.New()
	for _, id := range []string{"a", "b", "c"} {
		mustAdd(t, q, newJob(id, 0))
	}
	q.UpdateState("a", job.StatusPending)
	assertPending(t, q, "a", "b", "c")
}

func TestCancelledJobsAreNotDispatched(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("a", 9))
	mustAdd(t, q, newJob("b", 0))
	q.UpdateState("a", job.StatusCancelled)

	next, ok := q.NextPending()
	if !ok || next.ID != "b" {
		t.Fatalf("expected b, got %q", next.ID)
	}
}

func TestClearCompleted(t *testing.T) {
	q := queue.New()
	for _, id := range []string{"done", "bad", "stopped", "waiting"} {
		mustAdd(t, q, newJob(id, 0))
	}
	q.UpdateState("done", job.StatusCompleted)
	q.UpdateState("bad", job.StatusFailed)
	q.UpdateState("stopped", job.StatusCancelled)

	if n := q.ClearCompleted(); n != 3 {
		t.Fatalf("expected 3 removed, got %d", n)
	}
	assertPending(t, q, "waiting")
	if q.Len() != 1 {
		t.Fatalf("expected 1 job left, got %d", q.Len())
	}
}

func TestClearFailed(t *testing.T) {
	q := queue.New()
	for _, id := range []string{"done", "bad", "waiting"} {
		mustAdd(t, q, newJob(id, 0))
	}
	q.UpdateState("done", job.StatusCompleted)
	q.UpdateState("bad", job.StatusFailed)

	if n := q.ClearFailed(); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok := q.Get("bad"); ok {
		t.Fatal("failed job still present")
	}
	if _, ok := q.Get("done"); !ok {
		t.Fatal("completed job removed")
	}
}

func TestCounts_CancelledNotPending(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("a", 0))
	mustAdd(t, q, newJob("b", 0))
	q.UpdateState("b", job.StatusCancelled)

	c := q.Counts()
	if c.Pending != 1 || c.Cancelled != 1 || c.Total != 2 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestRemove(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("a", 0))
	q.Claim(nil)

	if !q.Remove("a") {
		t.Fatal("remove should succeed")
	}
	if q.Remove("a") {
		t.Fatal("second remove should fail")
	}
	if c := q.Counts(); c.Total != 0 || c.Running != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestRestore_PlacesByStatus(t *testing.T) {
	q := queue.New()
	statuses := map[string]job.Status{
		"p": job.StatusPending,
		"r": job.StatusRunning,
		"c": job.StatusCompleted,
		"f": job.StatusFailed,
	}
	for _, id := range []string{"p", "r", "c", "f"} {
		j := newJob(id, 0)
		j.Status = statuses[id]
		if err := q.Restore(j); err != nil {
			t.Fatalf("restore %s: %v", id, err)
		}
	}

	assertPending(t, q, "p", "r")
	c := q.Counts()
	if c.Completed != 1 || c.Failed != 1 || c.Running != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}
	r, _ := q.Get("r")
	if r.Status != job.StatusRunning {
		t.Fatalf("restore must keep persisted status, got %s", r.Status)
	}
}

func TestMutate_CannotChangeStatus(t *testing.T) {
	q := queue.New()
	mustAdd(t, q, newJob("a", 0))

	q.Mutate("a", func(j *job.Job) {
		j.Options["auto_repair"] = true
		j.Status = job.StatusCompleted
	})

	got, _ := q.Get("a")
	if got.Status != job.StatusPending {
		t.Fatalf("status changed through Mutate: %s", got.Status)
	}
	if got.Options["auto_repair"] != true {
		t.Fatal("mutation not applied")
	}
}

func TestObservers(t *testing.T) {
	q := queue.New()

	var mu sync.Mutex
	var events []queue.Event
	q.AddObserver(func(event queue.Event, _ job.Job) {
		panic("observer failure must not propagate")
	})
	q.AddObserver(func(event queue.Event, _ job.Job) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	mustAdd(t, q, newJob("a", 0))
	q.Reorder("a", 0)
	q.UpdateState("a", job.StatusCompleted)
	q.Remove("a")

	mu.Lock()
	defer mu.Unlock()
	want := []queue.Event{queue.EventAdded, queue.EventReordered, queue.EventUpdated, queue.EventRemoved}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestObserverMayCallQueue(t *testing.T) {
	q := queue.New()
	done := make(chan int, 1)
	q.AddObserver(func(event queue.Event, _ job.Job) {
		if event == queue.EventAdded {
			done <- q.Len()
		}
	})

	mustAdd(t, q, newJob("a", 0))
	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("expected 1, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("observer deadlocked")
	}
}

func TestConcurrentAddIsUnique(t *testing.T) {
	q := queue.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.Add(newJob(fmt.Sprintf("j%d", i%10), 0)) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 10 || q.Len() != 10 {
		t.Fatalf("expected 10 unique jobs, accepted=%d len=%d", accepted, q.Len())
	}
}

func assertPending(t *testing.T, q *queue.Queue, want ...string) {
	t.Helper()
	got := q.PendingIDs()
	if len(got) != len(want) {
		t.Fatalf("expected pending %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected pending %v, got %v", want, got)
		}
	}
}
