// Package middleware provides composable middleware around executor calls.
//
// A [Middleware] wraps the call that runs one job attempt. Middleware are
// composed into a chain using [Chain] and applied by the execution engine
// before each attempt. The first middleware in the slice is the outermost
// wrapper.
//
//	// recover → tracing → metrics → logging → executor
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs job ID, type, duration and outcome
//   - [Recover] converts executor panics into a [*PanicError]
//   - [Tracing] wraps the attempt in an OpenTelemetry span
//   - [Metrics] records per-attempt duration and outcome counters
//
// A result whose Success flag is false counts as a failed attempt for
// logging, tracing and metrics even when the executor returned no error.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) (*job.Result, error) {
//	        // pre-processing
//	        res, err := next(ctx)
//	        // post-processing
//	        return res, err
//	    }
//	}
package middleware
