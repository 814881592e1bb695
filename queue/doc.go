// Package queue provides the job queue: thread-safe, ordered storage of
// pending, running, completed and failed jobs with O(1) lookup by ID, and
// a per-job-type [Limiter] enforcing concurrency caps and token-bucket
// rate limits at dispatch time.
//
// # Ordering
//
// Pending jobs are kept in an ordered list. [Queue.NextPending] and
// [Queue.Claim] select the highest-priority pending job; ties go to the
// job that sits earliest in the list, which is insertion order unless
// [Queue.Reorder] or a front re-queue moved it.
//
//	q := queue.New()
//	_ = q.Add(job.New(job.TypeRender, "a.stl", "a.png", job.WithPriority(5)))
//	next, ok := q.NextPending()
//
// Selection never removes a job. A job leaves the pending list only when
// it is claimed for dispatch, so it is always visible to [Queue.All].
//
// # Observers
//
// Every mutating operation notifies registered observers with the event
// type and a copy of the job. Observers run after the queue lock is
// released; panics are recovered and logged.
//
// # Limiter
//
// [Limiter] uses golang.org/x/time/rate for per-type token buckets and an
// active-count gate for concurrency caps:
//
//	l := queue.NewLimiter(batch.LimitConfig{JobType: "render", MaxConcurrency: 1})
//	if l.Acquire("render") {
//	    defer l.Release("render")
//	}
package queue
