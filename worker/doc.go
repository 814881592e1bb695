// Package worker provides the job execution engine: a bounded pool of
// goroutines that runs submitted jobs through the [Executor] registered
// for their type.
//
// Executors are injected at construction time, one per job type, so
// several engines can coexist in one process:
//
//	eng := worker.NewEngine(map[job.Type]worker.Executor{
//	    job.TypeValidate: executor.NewValidate(),
//	}, worker.WithWorkers(4), worker.WithListener(l))
//	eng.Start()
//	h, err := eng.Submit(j)
//
// Every attempt runs through the middleware chain with [middleware.Recover]
// outermost, so executor panics become failed outcomes instead of
// crashing the process.
//
// # Pausing and cancellation
//
// The pause gate is checked before a job starts: while paused no queued
// job begins, and jobs already executing run to completion. Cancellation
// of a queued job is immediate. A running job is cancelled cooperatively:
// its context is cancelled and the next call to its [ProgressFunc]
// returns [batch.ErrCancellationRequested]. Executors that return that
// error (or the context's error) end the attempt as cancelled rather
// than failed.
package worker
