package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/ext"
	"github.com/xraph/batch/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobProgress(_ context.Context, _ *job.Job, _ float64, _ string) error {
	e.calls = append(e.calls, "OnJobProgress")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ *job.Result) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ *job.Error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnJobRecovered(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobRecovered")
	return nil
}

func (e *allHooksExt) OnStateChanged(_ context.Context, _ batch.Summary) error {
	e.calls = append(e.calls, "OnStateChanged")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// jobOnlyExt only implements two job hooks.
type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *jobOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ *job.Result) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors or panics from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	panic("observer exploded")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func testJob() *job.Job {
	j := job.New(job.TypeMock, "in.stl", "out.png")
	return &j
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
	if !r.HasStateObservers() {
		t.Fatal("expected a state observer")
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := testJob()

	r.EmitJobAdded(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobAdded" {
		t.Fatalf("all: expected [OnJobAdded], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobAdded" {
		t.Fatalf("jo: expected [OnJobAdded], got %v", jo.calls)
	}

	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := testJob()

	r.EmitJobAdded(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgress(ctx, j, 50, "half")
	r.EmitJobCompleted(ctx, j, job.Succeeded(j.ID, nil))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobFailed(ctx, j, job.NewError(job.CodeExecutionFailed, "x", nil))
	r.EmitJobCancelled(ctx, j)
	r.EmitJobRecovered(ctx, j)
	r.EmitStateChanged(ctx, batch.Summary{})
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobAdded", "OnJobStarted", "OnJobProgress", "OnJobCompleted",
		"OnJobRetrying", "OnJobFailed", "OnJobCancelled", "OnJobRecovered",
		"OnStateChanged", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobAdded(ctx, testJob())
	r.EmitJobStarted(ctx, testJob())

	if len(all.calls) != 2 {
		t.Fatalf("all: expected both hooks despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()
	j := testJob()

	r.EmitJobAdded(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgress(ctx, j, 1, "")
	r.EmitJobCompleted(ctx, j, nil)
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobFailed(ctx, j, nil)
	r.EmitJobCancelled(ctx, j)
	r.EmitJobRecovered(ctx, j)
	r.EmitStateChanged(ctx, batch.Summary{})
	r.EmitShutdown(ctx)
}

func TestJobObserverFunc(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var events []ext.Event
	r.Register(ext.JobObserverFunc(func(e ext.Event, j job.Job) {
		if j.ID == "" {
			t.Error("observer received an empty job")
		}
		events = append(events, e)
	}))

	ctx := context.Background()
	j := testJob()
	r.EmitJobAdded(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgress(ctx, j, 10, "")
	r.EmitJobCompleted(ctx, j, nil)
	r.EmitJobFailed(ctx, j, nil)
	r.EmitJobRecovered(ctx, j)

	want := []ext.Event{
		ext.EventJobAdded, ext.EventJobStarted, ext.EventJobProgress,
		ext.EventJobCompleted, ext.EventJobFailed, ext.EventJobRecovery,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestStateObserverFunc(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var got batch.Summary
	r.Register(ext.StateObserverFunc(func(s batch.Summary) { got = s }))

	r.EmitStateChanged(context.Background(), batch.Summary{Total: 3, Completed: 1})
	if got.Total != 3 || got.Completed != 1 {
		t.Fatalf("summary = %+v", got)
	}
}
