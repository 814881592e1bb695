package job_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/job"
)

func TestNew(t *testing.T) {
	j := job.New(job.TypeRender, "in.stl", "out.png",
		job.WithPriority(5),
		job.WithOption("render_options", map[string]any{"width": 1920}),
		job.WithMetadata("source", "scan"),
	)

	if !strings.HasPrefix(j.ID, "job_") {
		t.Errorf("expected generated job id, got %q", j.ID)
	}
	if j.Status != job.StatusPending {
		t.Errorf("expected pending, got %q", j.Status)
	}
	if j.Priority != 5 {
		t.Errorf("expected priority 5, got %d", j.Priority)
	}
	if j.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if j.Metadata["source"] != "scan" {
		t.Errorf("expected metadata to be set, got %v", j.Metadata)
	}
	if err := j.Validate(); err != nil {
		t.Fatalf("expected valid job: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*job.Job)
	}{
		{"missing id", func(j *job.Job) { j.ID = "" }},
		{"missing type", func(j *job.Job) { j.Type = "" }},
		{"missing input", func(j *job.Job) { j.Input = "" }},
		{"missing output", func(j *job.Job) { j.Output = "" }},
		{"unknown status", func(j *job.Job) { j.Status = "exploded" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := job.New(job.TypeValidate, "a.stl", "a.json")
			tt.mutate(&j)
			err := j.Validate()
			if !errors.Is(err, batch.ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	started := time.Now()
	j := job.New(job.TypeRender, "in.stl", "out.png",
		job.WithOption("render_options", map[string]any{"width": 1920, "tags": []any{"a"}}),
		job.WithMetadata("k", "v"),
	)
	j.StartedAt = &started

	c := j.Clone()
	c.Section("render_options")["width"] = 400
	c.Section("render_options")["tags"].([]any)[0] = "b"
	c.Metadata["k"] = "changed"
	*c.StartedAt = started.Add(time.Hour)

	ro := j.Section("render_options")
	if ro["width"] != 1920 {
		t.Errorf("clone mutated original options: %v", ro["width"])
	}
	if ro["tags"].([]any)[0] != "a" {
		t.Error("clone mutated original nested slice")
	}
	if j.Metadata["k"] != "v" {
		t.Error("clone mutated original metadata")
	}
	if !j.StartedAt.Equal(started) {
		t.Error("clone shares started_at pointer")
	}
}

func TestSection(t *testing.T) {
	j := job.New(job.TypeValidate, "a.stl", "a.json")
	if _, ok := j.LookupSection("validation_options"); ok {
		t.Fatal("section should not exist yet")
	}
	j.Section("validation_options")["auto_repair"] = true

	vo, ok := j.LookupSection("validation_options")
	if !ok || vo["auto_repair"] != true {
		t.Fatalf("expected auto_repair in section, got %v", j.Options)
	}
}

func TestIntAcceptsJSONNumbers(t *testing.T) {
	j := job.New(job.TypeRender, "a.stl", "a.png", job.WithOption("width", float64(640)))
	if got := j.Int("width", 0); got != 640 {
		t.Errorf("expected 640, got %d", got)
	}
	if got := j.Int("missing", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}

func TestResetAttempt(t *testing.T) {
	now := time.Now()
	j := job.New(job.TypeMock, "a", "b")
	j.Status = job.StatusRunning
	j.Progress = 40
	j.StartedAt = &now
	j.CompletedAt = &now

	j.ResetAttempt()

	if j.Status != job.StatusPending || j.Progress != 0 || j.StartedAt != nil || j.CompletedAt != nil {
		t.Fatalf("attempt not reset: %+v", j)
	}
}

func TestStatus(t *testing.T) {
	for _, s := range []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCancelled} {
		if !s.Finished() {
			t.Errorf("%q should be finished", s)
		}
	}
	for _, s := range []job.Status{job.StatusPending, job.StatusRunning} {
		if s.Finished() {
			t.Errorf("%q should not be finished", s)
		}
	}
}

func TestErrorAs(t *testing.T) {
	base := job.NewError(job.CodeRenderFailed, "render failed", map[string]any{"width": 1920})
	wrapped := fmt.Errorf("attempt 2: %w", base)

	je, ok := job.AsError(wrapped)
	if !ok {
		t.Fatal("expected to extract job error")
	}
	if je.Code != job.CodeRenderFailed {
		t.Errorf("expected code %q, got %q", job.CodeRenderFailed, je.Code)
	}
	if v, _ := je.Detail("width"); v != 1920 {
		t.Errorf("expected detail width, got %v", v)
	}
	if got := base.Error(); got != "RENDER_FAILED: render failed" {
		t.Errorf("unexpected error string %q", got)
	}
}

func TestResultWithExecutionTime(t *testing.T) {
	r := job.Succeeded("job_1", map[string]any{"ok": true})
	timed := r.WithExecutionTime(1500 * time.Millisecond)

	if r.ExecutionTime != 0 {
		t.Error("original result was mutated")
	}
	if timed.Seconds() != 1.5 {
		t.Errorf("expected 1.5s, got %v", timed.Seconds())
	}
}
