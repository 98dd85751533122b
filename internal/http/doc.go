// Package http provides the HTTP client shared by all patch downloads.
//
// This package handles:
//   - Connection pooling sized to the worker pool (28 per host)
//   - The fixed launcher request headers (User-Agent, Host, no-cache)
//   - Transparent response decompression
//   - Error classification driving retry policy and backoff
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	resp, err := client.Get(ctx, url)
//	if err != nil {
//	    kind := http.Classify(err)
//	    // kind.Retryable(), kind.Backoff()
//	}
//
// Retry is deliberately not implemented here: the per-file pipeline
// owns the attempt loop so that backoff, health accounting and task
// status stay in one place.
package http
