package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/batch"
)

// typeState tracks runtime state for a single job type.
type typeState struct {
	config  batch.LimitConfig
	limiter *rate.Limiter
	active  int
}

// Limiter controls per-job-type rate limiting and concurrency.
// It is safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimiter creates a Limiter with the given limits. Job types not
// listed here have no limits beyond the worker pool size.
func NewLimiter(configs ...batch.LimitConfig) *Limiter {
	l := &Limiter{types: make(map[string]*typeState, len(configs))}
	for _, cfg := range configs {
		l.types[cfg.JobType] = newTypeState(cfg)
	}
	return l
}

func newTypeState(cfg batch.LimitConfig) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks the concurrency cap and rate limit for jobType. If the
// job may proceed it increments the active counter and returns true. The
// caller MUST call Release when the attempt ends.
func (l *Limiter) Acquire(jobType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts == nil {
		return true
	}
	// Concurrency first so a blocked job does not burn a token.
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// NextAllowed returns how long until the rate limit of jobType admits
// another job. It is zero when a token is available, when the type has
// no rate limit and when the concurrency cap is what holds it back.
func (l *Limiter) NextAllowed(jobType string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts == nil || ts.limiter == nil {
		return 0
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return 0
	}
	missing := 1 - ts.limiter.Tokens()
	if missing <= 0 {
		return 0
	}
	d := time.Duration(missing / float64(ts.limiter.Limit()) * float64(time.Second))
	return max(d, time.Millisecond)
}

// Release decrements the active count for jobType.
func (l *Limiter) Release(jobType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetLimit dynamically updates (or creates) the limit for a job type.
func (l *Limiter) SetLimit(cfg batch.LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.types[cfg.JobType]
	ts := newTypeState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	l.types[cfg.JobType] = ts
}

// Active returns the current number of active jobs for a job type.
func (l *Limiter) Active(jobType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
