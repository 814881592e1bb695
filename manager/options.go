package manager

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/batch/ext"
	"github.com/xraph/batch/job"
	mw "github.com/xraph/batch/middleware"
	"github.com/xraph/batch/recovery"
	"github.com/xraph/batch/retry"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(m *Manager) { m.pendingExts = append(m.pendingExts, e) }
}

// WithJobObserver registers fn for every job lifecycle event.
func WithJobObserver(fn func(event ext.Event, j job.Job)) Option {
	return WithExtension(ext.JobObserverFunc(fn))
}

// WithStateObserver registers fn for every state change.
func WithStateObserver(fn ext.StateObserverFunc) Option {
	return WithExtension(fn)
}

// WithMiddleware adds execution middleware inside the default stack.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(m *Manager) { m.mws = append(m.mws, mws...) }
}

// WithStore replaces the file checkpoint store built from
// Config.StateDir.
func WithStore(s recovery.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithPatterns replaces the error classification table. It takes
// precedence over Config.PatternsFile.
func WithPatterns(patterns ...retry.Pattern) Option {
	return func(m *Manager) { m.patterns = patterns }
}

// WithStrategy registers a named recovery strategy.
func WithStrategy(name string, fn retry.Strategy) Option {
	return func(m *Manager) {
		if m.strategies == nil {
			m.strategies = make(map[string]retry.Strategy)
		}
		m.strategies[name] = fn
	}
}

// WithTracerProvider sets the OTel TracerProvider used by the tracing
// middleware. The global provider is used when unset.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider used by the metrics
// middleware and the observability extension. The global provider is
// used when unset.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meterProvider = mp }
}
