// Package audithook is an extension that turns job lifecycle events into
// audit events and hands them to a [Recorder].
//
// Each hook emits one structured event with a severity (info for normal
// operation, warning for retries and cancellations, critical for
// terminal failures) and metadata such as the job type, input file,
// execution time and error code.
//
// # Writing an audit log
//
//	f, _ := os.OpenFile("audit.jsonl", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
//	m, _ := manager.New(cfg, executors,
//	    manager.WithExtension(audithook.New(audithook.NewJSONRecorder(f))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobRecovered,
//	    ),
//	)
package audithook
