package batch

import "time"

// Summary is a read-only aggregate snapshot of a manager's queue,
// computed on demand.
type Summary struct {
	Total           int       `json:"total_jobs"`
	Pending         int       `json:"pending_jobs"`
	Running         int       `json:"running_jobs"`
	Completed       int       `json:"completed_jobs"`
	Failed          int       `json:"failed_jobs"`
	Cancelled       int       `json:"cancelled_jobs"`
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	SessionID       string    `json:"session_id,omitempty"`
	OverallProgress float64   `json:"overall_progress"`
	PendingRetries  int       `json:"pending_retries"`
	Timestamp       time.Time `json:"timestamp"`
}

// Finished reports whether nothing is pending, running or waiting for a
// retry.
func (s Summary) Finished() bool {
	return s.Pending == 0 && s.Running == 0 && s.PendingRetries == 0
}
