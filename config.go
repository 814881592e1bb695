package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for a job manager.
type Config struct {
	// MaxWorkers is the size of the execution worker pool.
	MaxWorkers int `koanf:"max_workers"`

	// StateDir is the directory holding the recovery checkpoint files.
	StateDir string `koanf:"state_dir"`

	// AutoSave writes a checkpoint after every state-changing event.
	AutoSave bool `koanf:"auto_save"`

	// EnableRecovery turns session checkpointing and recovery on.
	EnableRecovery bool `koanf:"enable_recovery"`

	// ProgressHistory is the capacity of the rolling duration history
	// kept by the progress tracker.
	ProgressHistory int `koanf:"progress_history"`

	// MaxRetryDelay caps the exponential retry backoff.
	MaxRetryDelay time.Duration `koanf:"max_retry_delay"`

	// ShutdownTimeout bounds how long Shutdown waits for in-flight jobs.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// EventBuffer is the initial capacity of the manager's lifecycle
	// event mailbox. The mailbox grows beyond it rather than block.
	EventBuffer int `koanf:"event_buffer"`

	// PatternsFile optionally points at a YAML error pattern table that
	// replaces the built-in classification rules.
	PatternsFile string `koanf:"patterns_file"`

	// Limits holds optional per-job-type dispatch limits.
	Limits []LimitConfig `koanf:"limits"`
}

// LimitConfig restricts dispatch of a single job type.
type LimitConfig struct {
	// JobType is the job type the limit applies to.
	JobType string `koanf:"job_type"`

	// MaxConcurrency caps simultaneously running jobs of this type.
	// Zero means unlimited.
	MaxConcurrency int `koanf:"max_concurrency"`

	// RateLimit is the sustained dispatch rate in jobs per second.
	// Zero means unlimited.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the token bucket burst size. Defaults to 1 when a rate
	// limit is set.
	RateBurst int `koanf:"rate_burst"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      2,
		StateDir:        DefaultStateDir(),
		AutoSave:        true,
		EnableRecovery:  true,
		ProgressHistory: 100,
		MaxRetryDelay:   5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		EventBuffer:     1024,
	}
}

// DefaultStateDir returns the per-user directory used for recovery files.
func DefaultStateDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "batchq", "recovery")
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.MaxWorkers < 1:
		return fmt.Errorf("batch: max_workers must be at least 1, got %d", c.MaxWorkers)
	case c.ProgressHistory < 1:
		return fmt.Errorf("batch: progress_history must be at least 1, got %d", c.ProgressHistory)
	case c.MaxRetryDelay < 0:
		return fmt.Errorf("batch: max_retry_delay must not be negative")
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("batch: shutdown_timeout must not be negative")
	case c.EventBuffer < 1:
		return fmt.Errorf("batch: event_buffer must be at least 1, got %d", c.EventBuffer)
	case c.EnableRecovery && c.StateDir == "":
		return fmt.Errorf("batch: state_dir is required when recovery is enabled")
	}
	for _, l := range c.Limits {
		if l.JobType == "" {
			return fmt.Errorf("batch: limit without job_type")
		}
		if l.MaxConcurrency < 0 || l.RateLimit < 0 || l.RateBurst < 0 {
			return fmt.Errorf("batch: limit for %q must not be negative", l.JobType)
		}
	}
	return nil
}
