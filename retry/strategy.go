package retry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xraph/batch/job"
)

// Built-in recovery strategy names.
const (
	StrategyCheckFilePermissions = "check_file_permissions"
	StrategySkipJob              = "skip_job"
	StrategyReduceBatchSize      = "reduce_batch_size"
	StrategyFallbackRenderer     = "fallback_renderer"
	StrategyAutoRepair           = "auto_repair"
	StrategyResumeLater          = "resume_later"
	StrategyDefaultRetry         = "default_retry"
)

// Action is what a strategy or verdict asks the manager to do.
type Action string

// Actions.
const (
	ActionRetry  Action = "retry"
	ActionResume Action = "resume"
	ActionSkip   Action = "skip"
	ActionFail   Action = "fail"
)

// Outcome is the result of running a recovery strategy.
type Outcome struct {
	Success bool
	Message string
	Action  Action
}

// Strategy tries to improve the odds of the next attempt. It may mutate
// j.Options in place.
type Strategy func(ctx context.Context, j *job.Job, e *job.Error) Outcome

// Strategies is a named, pluggable set of recovery strategies. It is
// safe for concurrent use.
type Strategies struct {
	mu sync.RWMutex
	m  map[string]Strategy
}

// DefaultStrategies returns a set holding every built-in strategy.
func DefaultStrategies() *Strategies {
	return &Strategies{m: map[string]Strategy{
		StrategyCheckFilePermissions: CheckFilePermissions,
		StrategySkipJob:              SkipJob,
		StrategyReduceBatchSize:      ReduceBatchSize,
		StrategyFallbackRenderer:     FallbackRenderer,
		StrategyAutoRepair:           AutoRepair,
		StrategyResumeLater:          ResumeLater,
		StrategyDefaultRetry:         DefaultRetry,
	}}
}

// Register adds or replaces a strategy.
func (s *Strategies) Register(name string, fn Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = fn
}

// Lookup returns the strategy registered under name.
func (s *Strategies) Lookup(name string) (Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.m[name]
	return fn, ok
}

// apply runs the named strategy, converting a missing strategy or a
// panic into a failed outcome.
func (s *Strategies) apply(ctx context.Context, name string, j *job.Job, e *job.Error) (out Outcome) {
	fn, ok := s.Lookup(name)
	if !ok {
		return Outcome{Success: false, Message: fmt.Sprintf("unknown recovery strategy %q", name), Action: ActionFail}
	}
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Success: false, Message: fmt.Sprintf("recovery strategy %q panicked: %v", name, r), Action: ActionFail}
		}
	}()
	return fn(ctx, j, e)
}

// ──────────────────────────────────────────────────
// Built-in strategies
// ──────────────────────────────────────────────────

// CheckFilePermissions verifies the input is readable and the output
// directory is writable, creating it when missing.
func CheckFilePermissions(_ context.Context, j *job.Job, _ *job.Error) Outcome {
	f, err := os.Open(j.Input)
	if err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("input not readable: %v", err), Action: ActionFail}
	}
	_ = f.Close()

	dir := j.Output
	if filepath.Ext(dir) != "" {
		dir = filepath.Dir(dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("cannot create output directory: %v", err), Action: ActionFail}
	}
	probe, err := os.CreateTemp(dir, ".batch-perm-*")
	if err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("output directory not writable: %v", err), Action: ActionFail}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	return Outcome{Success: true, Message: "file permissions verified", Action: ActionRetry}
}

// SkipJob gives up on the job.
func SkipJob(_ context.Context, _ *job.Job, _ *job.Error) Outcome {
	return Outcome{Success: true, Message: "job skipped", Action: ActionSkip}
}

// ReduceBatchSize is advisory; it leaves the job untouched.
func ReduceBatchSize(_ context.Context, _ *job.Job, _ *job.Error) Outcome {
	return Outcome{Success: true, Message: "reduce concurrent load before retrying", Action: ActionRetry}
}

// FallbackRenderer lowers the job's render quality options. It fails
// when the job carries no render options to lower.
func FallbackRenderer(_ context.Context, j *job.Job, _ *job.Error) Outcome {
	ro, ok := j.LookupSection("render_options")
	if !ok {
		return Outcome{Success: false, Message: "no fallback render options available", Action: ActionFail}
	}
	ro["width"] = min(job.AsInt(ro["width"], 400), 400)
	ro["height"] = min(job.AsInt(ro["height"], 300), 300)
	ro["anti_aliasing"] = false
	ro["high_quality"] = false
	return Outcome{Success: true, Message: "render quality lowered for retry", Action: ActionRetry}
}

// AutoRepair turns on mesh repair for the next validation attempt.
func AutoRepair(_ context.Context, j *job.Job, _ *job.Error) Outcome {
	vo := j.Section("validation_options")
	vo["auto_repair"] = true
	vo["aggressive_repair"] = true
	return Outcome{Success: true, Message: "auto repair enabled", Action: ActionRetry}
}

// ResumeLater puts the job back without consuming a retry.
func ResumeLater(_ context.Context, _ *job.Job, _ *job.Error) Outcome {
	return Outcome{Success: true, Message: "job will resume later", Action: ActionResume}
}

// DefaultRetry retries without changes.
func DefaultRetry(_ context.Context, _ *job.Job, _ *job.Error) Outcome {
	return Outcome{Success: true, Message: "retrying", Action: ActionRetry}
}
