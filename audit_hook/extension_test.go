package audithook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/batch/audit_hook"
	"github.com/xraph/batch/ext"
	"github.com/xraph/batch/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newExtension(rec ah.Recorder, opts ...ah.Option) *ah.Extension {
	opts = append([]ah.Option{ah.WithClock(func() time.Time { return fixedTime })}, opts...)
	return ah.New(rec, opts...)
}

func newTestJob() *job.Job {
	j := job.New(job.TypeValidate, "/in/part.stl", "/out/part.json",
		job.WithID("job-1"),
		job.WithPriority(3),
	)
	j.Attempt = 2
	return &j
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_JobAdded(t *testing.T) {
	rec := &mockRecorder{}
	e := newExtension(rec)
	j := newTestJob()

	if err := e.OnJobAdded(context.Background(), j); err != nil {
		t.Fatalf("OnJobAdded: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobAdded {
		t.Errorf("Action: want %q, got %q", ah.ActionJobAdded, evt.Action)
	}
	if evt.Resource != ah.ResourceJob || evt.Category != ah.CategoryJob {
		t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != "job-1" {
		t.Errorf("ResourceID: want %q, got %q", "job-1", evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if !evt.Timestamp.Equal(fixedTime) {
		t.Errorf("Timestamp: got %v", evt.Timestamp)
	}
	if evt.Metadata["job_type"] != "validate" {
		t.Errorf("Metadata[job_type]: got %v", evt.Metadata["job_type"])
	}
	if evt.Metadata["input_file"] != "/in/part.stl" {
		t.Errorf("Metadata[input_file]: got %v", evt.Metadata["input_file"])
	}
	if evt.Metadata["priority"] != 3 {
		t.Errorf("Metadata[priority]: got %v", evt.Metadata["priority"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := newExtension(rec)
	j := newTestJob()
	res := job.Succeeded(j.ID, nil).WithExecutionTime(1500 * time.Millisecond)

	if err := e.OnJobCompleted(context.Background(), j, res); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: got %q", evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("Metadata[elapsed_ms]: got %v", evt.Metadata["elapsed_ms"])
	}
	if evt.Metadata["output_file"] != "/out/part.json" {
		t.Errorf("Metadata[output_file]: got %v", evt.Metadata["output_file"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := newExtension(rec)
	j := newTestJob()
	jerr := job.Errorf(job.CodeSTLLoadFailed, "failed to load file")

	if err := e.OnJobFailed(context.Background(), j, jerr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != jerr.Error() {
		t.Errorf("Reason: got %q", evt.Reason)
	}
	if evt.Metadata["code"] != job.CodeSTLLoadFailed {
		t.Errorf("Metadata[code]: got %v", evt.Metadata["code"])
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: got %v", evt.Metadata["attempt"])
	}

	if err := e.OnJobFailed(context.Background(), j, nil); err != nil {
		t.Fatalf("OnJobFailed(nil): %v", err)
	}
	if evt := rec.last(); evt.Reason != "" {
		t.Errorf("Reason without error: got %q", evt.Reason)
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := newExtension(rec)
	j := newTestJob()
	j.ErrorMessage = "RENDER_FAILED: boom"
	next := fixedTime.Add(4 * time.Second)

	if err := e.OnJobRetrying(context.Background(), j, 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: got %q", evt.Severity)
	}
	if evt.Metadata["retry_count"] != 2 {
		t.Errorf("Metadata[retry_count]: got %v", evt.Metadata["retry_count"])
	}
	if evt.Metadata["next_run_at"] != next.Format(time.RFC3339) {
		t.Errorf("Metadata[next_run_at]: got %v", evt.Metadata["next_run_at"])
	}
	if evt.Metadata["last_error"] != "RENDER_FAILED: boom" {
		t.Errorf("Metadata[last_error]: got %v", evt.Metadata["last_error"])
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := newExtension(rec, ah.WithActions(ah.ActionJobCompleted, ah.ActionJobFailed))
	ctx := context.Background()
	j := newTestJob()

	// Added is not enabled and is skipped.
	if err := e.OnJobAdded(ctx, j); err != nil {
		t.Fatalf("OnJobAdded: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (added disabled), got %d", rec.count())
	}

	if err := e.OnJobCompleted(ctx, j, job.Succeeded(j.ID, nil)); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, job.Errorf(job.CodeExecutionFailed, "boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failing := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := ah.New(failing)

	if err := e.OnJobAdded(context.Background(), newTestJob()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── JSON recorder test ───────────────────────────────

func TestJSONRecorder(t *testing.T) {
	var buf bytes.Buffer
	e := newExtension(ah.NewJSONRecorder(&buf))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobCancelled(ctx, j)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	var evt ah.AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Action != ah.ActionJobCancelled || evt.ResourceID != "job-1" {
		t.Errorf("decoded event: %+v", evt)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(newExtension(rec))

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobAdded(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, job.Succeeded(j.ID, nil))
	reg.EmitJobFailed(ctx, j, job.Errorf(job.CodeExecutionFailed, "fail"))
	reg.EmitJobRetrying(ctx, j, 1, fixedTime)
	reg.EmitJobCancelled(ctx, j)
	reg.EmitJobRecovered(ctx, j)

	all := ah.AllActions()
	if rec.count() != len(all) {
		t.Fatalf("expected %d events, got %d", len(all), rec.count())
	}
	for _, action := range all {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}
