// Package observability provides an OpenTelemetry metrics extension for
// the batch manager. The MetricsExtension implements lifecycle hooks to
// record counters for jobs added, started, completed, failed, retried,
// cancelled and recovered, plus a gauge of running jobs.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
