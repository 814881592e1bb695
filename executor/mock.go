package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/batch/job"
	"github.com/xraph/batch/worker"
)

// Compile-time interface check.
var _ worker.Executor = (*Mock)(nil)

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithSteps sets how many progress steps an execution takes.
func WithSteps(n int) MockOption {
	return func(m *Mock) { m.steps = max(1, n) }
}

// WithStepDelay sets the time spent per step.
func WithStepDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.delay = d }
}

// WithFailure makes executions fail whenever fn returns an error. fn
// sees the job and how many times the mock has executed it, starting at
// 1.
func WithFailure(fn func(j *job.Job, execution int) error) MockOption {
	return func(m *Mock) { m.fail = fn }
}

// WithJobType sets the job type the mock accepts.
func WithJobType(t job.Type) MockOption {
	return func(m *Mock) { m.jobType = t }
}

// Mock is an executor that sleeps through a number of steps, reporting
// progress after each one.
type Mock struct {
	jobType job.Type
	steps   int
	delay   time.Duration
	fail    func(j *job.Job, execution int) error

	mu       sync.Mutex
	runs     map[string]int
	cleanups atomic.Int32
}

// NewMock creates a mock with 4 steps of 10ms.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		jobType: job.TypeMock,
		steps:   4,
		delay:   10 * time.Millisecond,
		runs:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanHandle implements worker.Executor.
func (m *Mock) CanHandle(j *job.Job) bool { return j.Type == m.jobType }

// Capabilities implements worker.Executor.
func (m *Mock) Capabilities() worker.Capability { return worker.CapProgress | worker.CapCancel }

// Execute implements worker.Executor.
func (m *Mock) Execute(ctx context.Context, j *job.Job, progress worker.ProgressFunc) (*job.Result, error) {
	m.mu.Lock()
	m.runs[j.ID]++
	n := m.runs[j.ID]
	m.mu.Unlock()

	if err := progress(0, "starting"); err != nil {
		return nil, err
	}
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	for step := 1; step <= m.steps; step++ {
		timer.Reset(m.delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		pct := float64(step) / float64(m.steps) * 100
		if err := progress(pct, fmt.Sprintf("step %d/%d", step, m.steps)); err != nil {
			return nil, err
		}
	}

	if m.fail != nil {
		if err := m.fail(j, n); err != nil {
			return nil, err
		}
	}
	return job.Succeeded(j.ID, map[string]any{
		"mock_execution": true,
		"steps":          m.steps,
		"execution":      n,
	}), nil
}

// Cleanup implements worker.Executor.
func (m *Mock) Cleanup() error {
	m.cleanups.Add(1)
	return nil
}

// Executions returns how many times jobID was executed.
func (m *Mock) Executions(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[jobID]
}

// TotalExecutions returns the number of Execute calls.
func (m *Mock) TotalExecutions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.runs {
		total += n
	}
	return total
}

// Cleanups returns how many times Cleanup was called.
func (m *Mock) Cleanups() int { return int(m.cleanups.Load()) }
