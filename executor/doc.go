// Package executor provides the built-in job executors.
//
// [Mock] simulates work in timed steps and is used by tests and the CLI
// demo mode. [Validate] checks that an input file is a structurally
// sound ASCII or binary STL mesh and writes a JSON report next to the
// job's output reference.
//
// Both implement [worker.Executor] and report progress and honour
// cancellation through the progress callback.
package executor
