package recovery

import (
	"time"

	"github.com/xraph/batch/job"
)

// FormatVersion is written into metadata.json.
const FormatVersion = "1.0"

// Session statuses stored in session.json.
const (
	SessionActive    = "active"
	SessionRecovered = "recovered"
)

// Metadata is metadata.json.
type Metadata struct {
	SessionID      string    `json:"session_id"`
	StartTime      time.Time `json:"start_time"`
	LastCheckpoint time.Time `json:"last_checkpoint"`
	Version        string    `json:"version"`
}

// Session is session.json.
type Session struct {
	SessionID      string    `json:"session_id"`
	StartTime      time.Time `json:"start_time"`
	CheckpointTime time.Time `json:"checkpoint_time"`
	Status         string    `json:"status"`
}

// Jobs is jobs.json.
type Jobs struct {
	Jobs           []job.Job `json:"jobs"`
	QueueSize      int       `json:"queue_size"`
	CheckpointTime time.Time `json:"checkpoint_time"`
}

// Progress is progress.json.
type Progress struct {
	JobProgress     map[string]float64 `json:"job_progress"`
	JobMessages     map[string]string  `json:"job_messages"`
	OverallProgress float64            `json:"overall_progress"`
	CheckpointTime  time.Time          `json:"checkpoint_time"`
}

// Info summarizes a recoverable checkpoint.
type Info struct {
	SessionID       string             `json:"session_id"`
	StartTime       time.Time          `json:"start_time"`
	LastCheckpoint  time.Time          `json:"last_checkpoint"`
	TotalJobs       int                `json:"total_jobs"`
	ByStatus        map[job.Status]int `json:"by_status"`
	OverallProgress float64            `json:"overall_progress"`
}

// Pending returns the jobs that would be queued again on recovery.
func (i Info) Pending() int {
	return i.ByStatus[job.StatusPending] + i.ByStatus[job.StatusRunning] + i.ByStatus[job.StatusCancelled]
}
