package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// DocumentName is the cache document key inside the bucket, which in
// production maps to <pso2_bin>/StarDriver.cache.json.
const DocumentName = "StarDriver.cache.json"

// Entry records the digest of one verified file, together with the
// size and mtime that make the record trustworthy on a later scan.
type Entry struct {
	MD5   string    `json:"md5"`
	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
}

// document is the on-disk shape. Sum is an xxhash64 of the serialized
// entries; a mismatch means the document was truncated or hand-edited
// and the whole cache is discarded. Loss is tolerated.
type document struct {
	Sum     string           `json:"sum"`
	Entries map[string]Entry `json:"entries"`
}

// Cache is the persistent digest cache. The in-memory table is safe
// for concurrent use; Flush serializes a consistent snapshot.
type Cache struct {
	bucket *blob.Bucket
	log    *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	dirty   bool
}

// New creates a cache backed by the given bucket.
func New(bucket *blob.Bucket, log *slog.Logger) *Cache {
	return &Cache{
		bucket:  bucket,
		log:     log,
		entries: make(map[string]Entry),
	}
}

// OpenDirBucket opens a fileblob bucket rooted at dir, creating the
// directory if needed.
func OpenDirBucket(dir string) (*blob.Bucket, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache bucket: %w", err)
	}
	return bucket, nil
}

// Load reads the cache document. An absent document is not an error;
// a corrupt one is discarded and the cache starts empty.
func (c *Cache) Load(ctx context.Context) {
	data, err := c.bucket.ReadAll(ctx, DocumentName)
	if err != nil {
		if gcerrors.Code(err) != gcerrors.NotFound {
			c.log.Warn("cannot read digest cache, starting empty", slog.Any("error", err))
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.log.Warn("digest cache is corrupt, starting empty", slog.Any("error", err))
		return
	}
	if doc.Sum != sumEntries(doc.Entries) {
		c.log.Warn("digest cache checksum mismatch, starting empty")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range doc.Entries {
		c.entries[normalize(key)] = entry
	}
	c.log.Debug("digest cache loaded", slog.Int("entries", len(c.entries)))
}

// Lookup returns the cache entry for a relative path, if any.
func (c *Cache) Lookup(relPath string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[normalize(relPath)]
	return entry, ok
}

// IsFresh reports whether a cache entry exists for relPath whose size
// and mtime match the file exactly. A fresh entry's digest can be
// trusted without rehashing; a stale one never causes a skip.
func (c *Cache) IsFresh(relPath string, mtime time.Time, size int64) bool {
	entry, ok := c.Lookup(relPath)
	return ok && entry.Size == size && entry.MTime.Equal(mtime)
}

// Record inserts or overwrites the entry for relPath and marks the
// cache dirty. Called by the pipeline after a successful verification
// and by the scanner after hashing a present file, whether or not
// that digest matches the manifest.
func (c *Cache) Record(relPath, md5 string, size int64, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalize(relPath)] = Entry{
		MD5:   strings.ToLower(md5),
		Size:  size,
		MTime: mtime.UTC(),
	}
	c.dirty = true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush writes the cache document if dirty. Errors are logged, never
// propagated: losing the cache only costs rehash time on the next
// scan.
func (c *Cache) Flush(ctx context.Context) {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	snapshot := make(map[string]Entry, len(c.entries))
	for key, entry := range c.entries {
		snapshot[key] = entry
	}
	c.dirty = false
	c.mu.Unlock()

	doc := document{
		Sum:     sumEntries(snapshot),
		Entries: snapshot,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		c.log.Error("cannot serialize digest cache", slog.Any("error", err))
		return
	}

	if err := c.bucket.WriteAll(ctx, DocumentName, data, nil); err != nil {
		c.log.Error("cannot write digest cache", slog.Any("error", err))
		// Keep the dirty bit so a later flush retries.
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return
	}
	c.log.Debug("digest cache flushed", slog.Int("entries", len(snapshot)))
}

// sumEntries computes the integrity checksum over a deterministic
// serialization of the entries.
func sumEntries(entries map[string]Entry) string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, key := range keys {
		entry := entries[key]
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\n",
			key, entry.MD5, entry.Size, entry.MTime.UnixNano())
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func normalize(relPath string) string {
	return strings.ToLower(strings.ReplaceAll(relPath, "\\", "/"))
}
