// Package batch provides an embeddable batch job scheduler for Go. It
// queues units of work, executes them concurrently with bounded
// parallelism, tracks progress and ETA, classifies and retries failures,
// and survives process crashes by checkpointing and replaying state.
//
// Batch is designed as a library. Build a manager, register executors
// for the job types you care about, and feed it jobs.
//
// # Quick Start
//
//	m, err := manager.New(batch.DefaultConfig(), map[job.Type]worker.Executor{
//	    job.TypeValidate: executor.NewValidate(),
//	})
//	if err != nil { ... }
//	defer m.Shutdown(context.Background())
//
//	_ = m.AddJob(ctx, job.New(job.TypeValidate, "model.stl", "out/model.json"))
//	_ = m.Start(ctx)
//	_ = m.Wait(ctx)
//
// # Architecture
//
// The manager owns the job queue and wires it to the progress tracker,
// the error handler (retry package), the execution engine (worker
// package) and the session recovery manager. Executors are plugins
// injected at construction time; there is no global registry.
//
// With recovery enabled, the manager checkpoints the queue to a state
// directory (or Redis) after every change. A process that died mid-batch
// can call RecoverSession on the next start to continue where it left
// off.
//
// Job and session IDs use TypeID: type-prefixed, K-sortable,
// UUIDv7-based identifiers.
package batch
