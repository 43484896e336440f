// Package runner evaluates a configuration request end to end.
//
// A run loads the request's layers, evaluates its entry chain, optionally
// strips fallback-only writes, validates the result against a CUE schema
// and the policy set, and records the outcome in a store:
//
//	r, err := runner.New(
//	    runner.WithTelemetry(tel),
//	    runner.WithStore(store),
//	)
//	report, err := r.Run(ctx, req)
//	if err != nil {
//	    // evaluation failed; report.Status is "failed"
//	}
//	if !report.Accepted() {
//	    // rejected by the schema or a blocking policy
//	}
package runner
