// Package progress defines the event surface of a sync run.
//
// The engine and its workers publish events through the Sink
// interface; the CLI plugs in a console Reporter, headless callers
// and tests use NullSink.
//
// # Output Format
//
//	[stardriver] Scanning: 38122/38122 files
//	[stardriver] Downloading 214 files
//	[stardriver] Progress: 180/214 files | 1.13 GB
//	[stardriver] Sync complete: 214 succeeded | 0 failed | 0 cancelled
package progress
