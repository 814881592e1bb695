// Package recovery makes a running batch crash tolerant.
//
// A [Manager] checkpoints the job queue and the progress tracker into four
// documents (metadata.json, session.json, jobs.json and progress.json)
// held by a [Store]. Each document is written atomically, so a reader
// never sees a partial file. On the next launch [Manager.CanRecover]
// reports whether a complete checkpoint exists and
// [Manager.RecoverSession] rebuilds the queue from it. Jobs that were
// running when the process died are put back to pending with their
// progress voided; their retry counters are untouched.
//
// [FileStore] keeps the documents in one directory guarded by an
// advisory file lock. The redisstore subpackage keeps them in Redis.
package recovery
