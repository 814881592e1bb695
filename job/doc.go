// Package job defines the job entity, its lifecycle status, and the
// result and error values produced by an execution attempt.
//
// # Job Entity
//
// A [Job] is one unit of schedulable work: a type tag selecting the
// executor, an input and output reference, a priority and a free-form
// options map that recovery strategies may adjust between attempts.
// Jobs progress through a status machine:
//
//	pending → running → completed
//	pending → running → failed
//	pending → running → failed → pending (retry)
//	pending → running → cancelled
//
// The queue and manager own jobs exclusively and hand out copies made
// with [Job.Clone]; nothing outside a collection lock mutates a stored
// job.
//
// # Results and errors
//
// Every attempt produces exactly one [Result]. Failures carry an
// [Error] whose Code drives classification in the retry package.
// Executors may return an *Error directly to pick the code.
package job
