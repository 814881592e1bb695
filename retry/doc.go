// Package retry decides what happens to a failed job: retry with
// exponential backoff, resume later, or fail permanently.
//
// # Classification
//
// A [Classifier] matches a job error's code and message against an
// ordered list of [Pattern] rules (case-insensitive regular expression
// search on either field). The first match wins and a catch-all rule
// guarantees a result. The built-in table is returned by
// [DefaultPatterns]; [LoadPatterns] reads a replacement table from YAML.
//
// # Verdicts
//
// [Handler.Handle] consults the per-job retry counter. While it is below
// the pattern's MaxRetries the handler computes the delay
// (base * 2^count, through a backoff.Factory), runs the pattern's
// recovery [Strategy] which may rewrite the job's options, and
// increments the counter. Counters reset only on [Handler.HandleSuccess].
//
//	h := retry.NewHandler()
//	v := h.Handle(ctx, &j, jobErr)
//	switch v.Action {
//	case retry.ActionRetry:  // requeue after v.Delay
//	case retry.ActionResume: // requeue, counter untouched
//	case retry.ActionFail:   // permanent failure
//	}
package retry
