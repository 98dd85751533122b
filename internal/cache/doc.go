// Package cache persists file digests between runs so that rescans of
// an unchanged tree skip rehashing ~100 GB of data.
//
// Entries are keyed by normalized relative path and carry the digest
// plus the size and mtime observed when it was computed. A scan only
// trusts an entry when size and mtime still match exactly.
//
// The document lives in a blob bucket (a fileblob directory rooted at
// pso2_bin in production, memblob in tests) under
// StarDriver.cache.json. Integrity is best-effort: any parse or
// checksum failure discards the document and the cache starts empty.
package cache
