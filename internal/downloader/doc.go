// Package downloader contains the download engine: the per-file
// fetch-verify-install pipeline and the orchestration around it.
//
// # Pipeline
//
// Each worker streams a file to <dest>.dtmp while feeding an
// incremental MD5, dispatching the disk write of every chunk
// concurrently with hashing it. Only after the digest matches the
// manifest is the temp file renamed over the destination, so a reader
// never observes partial content at the final path. Failures are
// classified (see internal/http) and retried with per-kind fixed
// backoff up to the server-advised retry limit.
//
// # Orchestration
//
// Engine.Run sequences one pass: load the digest cache, fetch the
// root descriptor and manifest union, scan the local tree, then drain
// the download set through 28 tiered workers (16 large / 6 medium /
// 6 small, with work stealing) and flush the cache. Cancellation
// unwinds the pool; in-flight tasks finalize as Cancelled and their
// temp files are truncated on the next run.
package downloader
