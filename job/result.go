package job

import (
	"maps"
	"time"
)

// Result is the outcome of one execution attempt. It is never mutated
// after the engine hands it out.
type Result struct {
	JobID         string         `json:"job_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         *Error         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
}

// Succeeded builds a successful result carrying data.
func Succeeded(jobID string, data map[string]any) *Result {
	return &Result{JobID: jobID, Success: true, Data: maps.Clone(data)}
}

// Failed builds a failed result carrying err.
func Failed(jobID string, err *Error) *Result {
	return &Result{JobID: jobID, Success: false, Error: err}
}

// Seconds returns the execution time in seconds.
func (r *Result) Seconds() float64 {
	return r.ExecutionTime.Seconds()
}

// WithExecutionTime returns a copy of r with the execution time set.
func (r *Result) WithExecutionTime(d time.Duration) *Result {
	c := *r
	c.Data = maps.Clone(r.Data)
	c.ExecutionTime = d
	return &c
}
