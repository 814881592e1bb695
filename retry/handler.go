package retry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/xraph/batch/backoff"
	"github.com/xraph/batch/job"
)

// Verdict is the handler's decision for one failure.
type Verdict struct {
	// Action is ActionRetry, ActionResume or ActionFail.
	Action Action
	// Delay is how long to wait before the job becomes pending again.
	Delay time.Duration
	// RetryCount is the job's retry counter after this decision.
	RetryCount int
	Pattern    Pattern
	Outcome    Outcome
	Message    string
	// Error is the failure being judged.
	Error *job.Error
}

// Stats is a snapshot of the handler's counters.
type Stats struct {
	TotalErrors      int
	TotalRecoveries  int
	RecoveryRate     float64
	ErrorsByCategory map[Category]int
	StrategyApplied  map[string]int
	ActiveRetries    map[string]int
}

// Option configures a Handler.
type Option func(*Handler)

// WithClassifier replaces the built-in classification table.
func WithClassifier(c *Classifier) Option {
	return func(h *Handler) { h.classifier = c }
}

// WithStrategies replaces the built-in strategy set.
func WithStrategies(s *Strategies) Option {
	return func(h *Handler) { h.strategies = s }
}

// WithBackoff sets the delay strategy factory.
func WithBackoff(f backoff.Factory) Option {
	return func(h *Handler) { h.backoff = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// Handler classifies failures, tracks per-job retry counters and runs
// recovery strategies. It is safe for concurrent use.
type Handler struct {
	classifier *Classifier
	strategies *Strategies
	backoff    backoff.Factory
	logger     *slog.Logger

	mu         sync.Mutex
	counts     map[string]int
	errors     int
	recoveries int
	byCategory map[Category]int
	byStrategy map[string]int
}

// NewHandler creates a handler with the built-in patterns, strategies
// and uncapped exponential backoff.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		classifier: NewClassifier(),
		strategies: DefaultStrategies(),
		backoff:    backoff.ExponentialFactory(0),
		logger:     slog.Default(),
		counts:     make(map[string]int),
		byCategory: make(map[Category]int),
		byStrategy: make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Classify returns the pattern matching e.
func (h *Handler) Classify(e *job.Error) Pattern {
	return h.classifier.Classify(e)
}

// Strategies returns the handler's strategy set for registration.
func (h *Handler) Strategies() *Strategies {
	return h.strategies
}

// Handle judges a failed attempt of j. Recovery strategies may mutate
// j.Options; the caller owns j and persists those changes.
func (h *Handler) Handle(ctx context.Context, j *job.Job, e *job.Error) Verdict {
	if e == nil {
		e = job.NewError(job.CodeExecutionFailed, "unknown failure", nil)
	}
	pattern := h.classifier.Classify(e)

	h.mu.Lock()
	h.errors++
	h.byCategory[pattern.Category]++
	count := h.counts[j.ID]
	h.mu.Unlock()

	v := Verdict{Pattern: pattern, Error: e, RetryCount: count}

	if count >= pattern.MaxRetries {
		v.Action = ActionFail
		if pattern.MaxRetries == 0 {
			v.Message = fmt.Sprintf("%s: not retryable (%s)", e.Error(), pattern.Category)
		} else {
			v.Message = fmt.Sprintf("%s: retries exhausted (%d/%d)", e.Error(), count, pattern.MaxRetries)
		}
		h.logger.Warn("job failed permanently",
			slog.String("job_id", j.ID),
			slog.String("code", e.Code),
			slog.String("category", string(pattern.Category)),
			slog.Int("retries", count),
		)
		return v
	}

	v.Delay = h.backoff(pattern.BaseDelay).Delay(count + 1)
	v.Outcome = h.strategies.apply(ctx, pattern.Strategy, j, e)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.byStrategy[pattern.Strategy]++

	switch {
	case !v.Outcome.Success || v.Outcome.Action == ActionFail:
		v.Action = ActionFail
		v.Message = fmt.Sprintf("%s: recovery %s failed: %s", e.Error(), pattern.Strategy, v.Outcome.Message)
	case v.Outcome.Action == ActionSkip:
		v.Action = ActionFail
		v.Message = fmt.Sprintf("%s: %s", e.Error(), v.Outcome.Message)
	case v.Outcome.Action == ActionResume:
		v.Action = ActionResume
		v.Delay = pattern.BaseDelay
		v.Message = v.Outcome.Message
		h.recoveries++
	default:
		v.Action = ActionRetry
		h.counts[j.ID] = count + 1
		v.RetryCount = count + 1
		v.Message = v.Outcome.Message
		h.recoveries++
	}
	return v
}

// HandleSuccess resets the retry counter of jobID.
func (h *Handler) HandleSuccess(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.counts, jobID)
}

// Forget drops all per-job state for jobID.
func (h *Handler) Forget(jobID string) {
	h.HandleSuccess(jobID)
}

// RetryCount returns the current retry counter of jobID.
func (h *Handler) RetryCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[jobID]
}

// Stats returns a snapshot of the counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		TotalErrors:      h.errors,
		TotalRecoveries:  h.recoveries,
		ErrorsByCategory: maps.Clone(h.byCategory),
		StrategyApplied:  maps.Clone(h.byStrategy),
		ActiveRetries:    maps.Clone(h.counts),
	}
	if h.errors > 0 {
		s.RecoveryRate = float64(h.recoveries) / float64(h.errors)
	}
	return s
}

// ResetStats clears all counters, including retry counters.
func (h *Handler) ResetStats() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = make(map[string]int)
	h.errors = 0
	h.recoveries = 0
	h.byCategory = make(map[Category]int)
	h.byStrategy = make(map[string]int)
}
