// Package manager is the batch orchestrator. A [Manager] owns the job
// queue, the progress tracker, the retry handler, the execution engine,
// the delayed-retry scheduler and the recovery checkpoint, and wires
// them together.
//
// Engine callbacks arrive on worker goroutines. They are posted to a
// mailbox and applied in order by a single coordinator goroutine, which
// is also the only place new attempts are dispatched. Caller-facing
// operations mutate the queue directly and nudge the coordinator.
//
//	m, err := manager.New(cfg, map[job.Type]worker.Executor{
//		job.TypeValidate: executor.NewValidate(),
//	})
//	if err != nil { ... }
//	_ = m.AddJob(ctx, job.New(job.TypeValidate, "part.stl", "part.json"))
//	_ = m.Start(ctx)
//	_ = m.Wait(ctx)
//	_ = m.Shutdown(ctx)
package manager
