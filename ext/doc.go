// Package ext defines the extension system for batch processing.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, updating a UI, writing audit logs. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, res *job.Result) error {
//	    log.Printf("job %s completed in %s", j.ID, res.ExecutionTime)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobAdded]: job was accepted into the queue
//   - [JobStarted]: a worker began an attempt
//   - [JobProgress]: the executor reported progress
//   - [JobCompleted]: attempt finished successfully
//   - [JobRetrying]: attempt failed and a retry is scheduled
//   - [JobFailed]: job failed terminally
//   - [JobCancelled]: attempt was cancelled cooperatively
//   - [JobRecovered]: job was restored from a checkpoint
//
// # Other Hooks
//
//   - [StateChanged]: queue summary after any state change
//   - [Shutdown]: the manager is shutting down
//
// [JobObserverFunc] and [StateObserverFunc] adapt plain functions to
// these hooks.
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors and panics
// are logged, never propagated.
package ext
