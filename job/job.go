package job

import (
	"fmt"
	"time"

	"github.com/xraph/batch"
	"github.com/xraph/batch/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is waiting to be dispatched.
	StatusPending Status = "pending"
	// StatusRunning means a worker is executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the last attempt failed.
	StatusFailed Status = "failed"
	// StatusCancelled means the attempt was cooperatively cancelled.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Finished reports whether s ends an attempt.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Type tags a job with the kind of work it performs. It selects the
// executor that runs the job.
type Type string

// Job types with built-in meaning. Any non-empty type is accepted.
const (
	TypeRender   Type = "render"
	TypeValidate Type = "validate"
	TypeAnalyze  Type = "analyze"
	TypeMock     Type = "mock"
)

// Job is one unit of schedulable work.
type Job struct {
	ID           string            `json:"id"`
	Type         Type              `json:"job_type"`
	Input        string            `json:"input_file"`
	Output       string            `json:"output_file"`
	Status       Status            `json:"status"`
	Priority     int               `json:"priority"`
	Options      map[string]any    `json:"options"`
	Metadata     map[string]string `json:"metadata"`
	Progress     float64           `json:"progress"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Attempt      int               `json:"attempt"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at"`

	// Token identifies one dispatch of the job. Unlike Attempt it never
	// repeats within a manager, even when a job is removed and re-added.
	Token uint64 `json:"-"`
}

// New creates a pending job with a generated ID.
func New(jobType Type, input, output string, opts ...Option) Job {
	j := Job{
		ID:        id.NewJobID().String(),
		Type:      jobType,
		Input:     input,
		Output:    output,
		Status:    StatusPending,
		Options:   make(map[string]any),
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&j)
	}
	return j
}

// Validate checks that the job carries everything needed to run it.
func (j *Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing id", batch.ErrInvalidJob)
	case j.Type == "":
		return fmt.Errorf("%w: %s: missing job type", batch.ErrInvalidJob, j.ID)
	case j.Input == "":
		return fmt.Errorf("%w: %s: missing input", batch.ErrInvalidJob, j.ID)
	case j.Output == "":
		return fmt.Errorf("%w: %s: missing output destination", batch.ErrInvalidJob, j.ID)
	case j.Status != "" && !j.Status.Valid():
		return fmt.Errorf("%w: %s: unknown status %q", batch.ErrInvalidJob, j.ID, j.Status)
	}
	return nil
}

// ResetAttempt returns the job to a dispatchable state, clearing the
// timestamps and progress of the previous attempt.
func (j *Job) ResetAttempt() {
	j.Status = StatusPending
	j.Progress = 0
	j.StartedAt = nil
	j.CompletedAt = nil
}

// Duration returns the wall time of the current or last attempt.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	c := j
	c.Options = cloneMap(j.Options)
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
