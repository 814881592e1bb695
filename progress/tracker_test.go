package progress_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xraph/batch/job"
	"github.com/xraph/batch/progress"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testJob(id string) job.Job {
	return job.New(job.TypeRender, id+".stl", id+".png", job.WithID(id))
}

func TestSpeedAndTimeRemaining(t *testing.T) {
	clock := newFakeClock()
	tr := progress.NewTracker(progress.WithClock(clock.Now))
	tr.Start(testJob("j1"))

	p, _ := tr.Get("j1")
	if _, ok := p.TimeRemaining(); ok {
		t.Fatal("no estimate expected before any progress")
	}

	clock.Advance(10 * time.Second)
	if !tr.Update("j1", 25, "loading mesh") {
		t.Fatal("update should succeed")
	}

	p, _ = tr.Get("j1")
	if p.Speed != 2.5 {
		t.Errorf("expected speed 2.5%%/s, got %v", p.Speed)
	}
	remaining, ok := p.TimeRemaining()
	if !ok {
		t.Fatal("expected an estimate")
	}
	if remaining != 30*time.Second {
		t.Errorf("expected 30s remaining, got %v", remaining)
	}
	if p.Message != "loading mesh" {
		t.Errorf("expected message, got %q", p.Message)
	}
}

func TestUpdateClampsAndRejectsUnknown(t *testing.T) {
	tr := progress.NewTracker()
	tr.Start(testJob("j1"))

	tr.Update("j1", 140, "")
	if p, _ := tr.Get("j1"); p.Progress != 100 {
		t.Errorf("expected clamp to 100, got %v", p.Progress)
	}
	tr.Update("j1", -3, "")
	if p, _ := tr.Get("j1"); p.Progress != 0 {
		t.Errorf("expected clamp to 0, got %v", p.Progress)
	}
	if tr.Update("missing", 10, "") {
		t.Error("update of untracked job should fail")
	}
}

func TestOverallIsSimpleMean(t *testing.T) {
	tr := progress.NewTracker()
	for _, id := range []string{"a", "b", "c", "d"} {
		tr.Start(testJob(id))
	}
	tr.Update("a", 100, "")
	tr.Update("b", 50, "")
	// c and d stay at 0 and count as full jobs.

	if got := tr.Overall(); got != 37.5 {
		t.Fatalf("expected 37.5, got %v", got)
	}
	if got := progress.NewTracker().Overall(); got != 0 {
		t.Fatalf("empty tracker should report 0, got %v", got)
	}
}

func TestHistoryBoundedAndStats(t *testing.T) {
	clock := newFakeClock()
	tr := progress.NewTracker(progress.WithHistory(3), progress.WithClock(clock.Now))
	tr.StartQueue(4)

	durations := []time.Duration{100 * time.Second, 1 * time.Second, 2 * time.Second, 3 * time.Second}
	for i, d := range durations {
		id := string(rune('a' + i))
		tr.Start(testJob(id))
		tr.Complete(id, d)
	}
	clock.Advance(30 * time.Minute)

	perf := tr.Performance()
	if perf.InHistory != 3 {
		t.Fatalf("expected history of 3, got %d", perf.InHistory)
	}
	// The 100s entry was evicted.
	if perf.AverageDuration != 2*time.Second {
		t.Errorf("expected average 2s, got %v", perf.AverageDuration)
	}
	if perf.MedianDuration != 2*time.Second {
		t.Errorf("expected median 2s, got %v", perf.MedianDuration)
	}
	if math.Abs(perf.JobsPerHour-8) > 1e-9 {
		t.Errorf("expected 8 jobs/hour, got %v", perf.JobsPerHour)
	}
	if perf.Tracked != 4 {
		t.Errorf("expected 4 tracked, got %d", perf.Tracked)
	}
}

func TestMedianIsUpperMedian(t *testing.T) {
	tr := progress.NewTracker()
	for i, d := range []time.Duration{4 * time.Second, 1 * time.Second, 3 * time.Second, 2 * time.Second} {
		id := string(rune('a' + i))
		tr.Start(testJob(id))
		tr.Complete(id, d)
	}
	if got := tr.Performance().MedianDuration; got != 3*time.Second {
		t.Fatalf("expected sorted[n/2] = 3s, got %v", got)
	}
}

func TestResetKeepsJob(t *testing.T) {
	tr := progress.NewTracker()
	tr.Start(testJob("j1"))
	tr.Update("j1", 40, "rendering")

	tr.Reset("j1")

	p, ok := tr.Get("j1")
	if !ok {
		t.Fatal("reset must not forget the job")
	}
	if p.Progress != 0 || p.StartedAt != nil || p.Status != job.StatusPending || p.Message != "" {
		t.Fatalf("unexpected state after reset: %+v", p)
	}
}

func TestQueueProgress(t *testing.T) {
	tr := progress.NewTracker()
	tr.StartQueue(5)
	tr.Start(testJob("a"))
	tr.Complete("a", 2*time.Second)
	tr.Start(testJob("b"))
	tr.Fail("b", "boom")
	tr.Start(testJob("c"))

	qp := tr.QueueProgress()
	if qp.Total != 5 || qp.Completed != 1 || qp.Failed != 1 || qp.Active != 1 || qp.Pending != 2 {
		t.Fatalf("unexpected queue progress %+v", qp)
	}
	if qp.EstimatedRemaining == nil || *qp.EstimatedRemaining != 6*time.Second {
		t.Fatalf("expected 6s estimate, got %v", qp.EstimatedRemaining)
	}
	if qp.StartedAt == nil {
		t.Fatal("expected queue start")
	}
}

func TestMapsAndRestore(t *testing.T) {
	tr := progress.NewTracker()
	tr.Start(testJob("j1"))
	tr.Update("j1", 40, "half way")
	tr.Track(testJob("j2"))

	prog := tr.Progress()
	if prog["j1"] != 40 || prog["j2"] != 0 {
		t.Fatalf("unexpected progress map %v", prog)
	}
	msgs := tr.Messages()
	if msgs["j1"] != "half way" {
		t.Fatalf("unexpected messages %v", msgs)
	}
	if _, ok := msgs["j2"]; ok {
		t.Fatal("jobs without a message should be omitted")
	}

	restored := progress.NewTracker()
	restored.Restore(testJob("j1"), prog["j1"], msgs["j1"])
	if p, _ := restored.Get("j1"); p.Progress != 40 || p.Message != "half way" {
		t.Fatalf("restore lost values: %+v", p)
	}
}

func TestClearFinished(t *testing.T) {
	tr := progress.NewTracker()
	tr.Start(testJob("a"))
	tr.Complete("a", time.Second)
	tr.Start(testJob("b"))
	tr.Cancel("b")
	tr.Start(testJob("c"))

	if n := tr.ClearFinished(); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if len(tr.ActiveJobs()) != 1 {
		t.Fatal("running job should remain")
	}
	if tr.Performance().InHistory != 1 {
		t.Fatal("history must survive clearing")
	}
}
