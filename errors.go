package batch

import "errors"

var (
	// Queue errors.
	ErrJobNotFound  = errors.New("batch: job not found")
	ErrDuplicateJob = errors.New("batch: job already exists")
	ErrInvalidJob   = errors.New("batch: invalid job")

	// Engine errors.
	ErrEngineShutdown        = errors.New("batch: engine shut down")
	ErrExecutorNotFound      = errors.New("batch: no executor for job type")
	ErrDuplicateExecutor     = errors.New("batch: executor already registered for job type")
	ErrCancellationRequested = errors.New("batch: cancellation requested")

	// Manager state errors.
	ErrNotRunning     = errors.New("batch: processing not running")
	ErrAlreadyRunning = errors.New("batch: processing already running")
	ErrNoPendingJobs  = errors.New("batch: no pending jobs")
	ErrClosed         = errors.New("batch: manager closed")

	// Recovery errors.
	ErrNoRecoverableSession = errors.New("batch: no recoverable session")
	ErrSessionLocked        = errors.New("batch: session directory locked by another process")
	ErrRecoveryDisabled     = errors.New("batch: recovery disabled")
)
