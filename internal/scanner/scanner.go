// Package scanner walks the manifest against the local tree and
// decides which entries need downloading.
package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Sakurayuki-A/StarDriver/internal/cache"
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
	"github.com/Sakurayuki-A/StarDriver/internal/progress"
)

// hashChunkSize is the read size used when digesting local files.
const hashChunkSize = 80 * 1024

// progressEvery controls how often scan progress is emitted.
const progressEvery = 100

// Policy is a set of independent scan flags.
type Policy uint8

const (
	// MissingOnly enqueues only absent files; present files are
	// never inspected.
	MissingOnly Policy = 1 << iota

	// CompareSize enqueues files whose size differs from the
	// manifest.
	CompareSize

	// CompareDigest enqueues files whose MD5 differs from the
	// manifest.
	CompareDigest

	// ForceRehash disables the digest-cache shortcut: every file is
	// rehashed even when its cache entry is fresh.
	ForceRehash

	// TrustCacheOnly skips any file with a fresh cache entry without
	// comparing its digest against the manifest.
	TrustCacheOnly
)

// DefaultPolicy compares both size and digest.
const DefaultPolicy = CompareSize | CompareDigest

// Has reports whether all flags in p are set.
func (p Policy) Has(flags Policy) bool {
	return p&flags == flags
}

// Scanner decides, for each manifest entry, whether to download it.
type Scanner struct {
	fs    afero.Fs
	cache *cache.Cache
	sink  progress.Sink
	log   *slog.Logger
}

// New creates a scanner over the given filesystem.
func New(fs afero.Fs, dcache *cache.Cache, sink progress.Sink, log *slog.Logger) *Scanner {
	return &Scanner{fs: fs, cache: dcache, sink: sink, log: log}
}

// Scan stats (and when necessary hashes) every entry against binDir
// in parallel and returns the download set, in no particular order.
// Digests computed along the way are recorded into the cache so the
// next scan can skip the rehash.
func (s *Scanner) Scan(ctx context.Context, entries []manifest.Entry, binDir string, policy Policy) ([]manifest.Entry, error) {
	var (
		mu      sync.Mutex
		need    []manifest.Entry
		scanned atomic.Int64
	)

	total := len(entries)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU() * 2)

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if s.needsDownload(entry, binDir, policy) {
				mu.Lock()
				need = append(need, entry)
				mu.Unlock()
			}

			if n := scanned.Add(1); n%progressEvery == 0 {
				s.sink.OnScanProgress(int(n), total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.sink.OnScanProgress(total, total)
	s.log.Info("scan finished",
		slog.Int("total", total), slog.Int("need_download", len(need)))
	return need, nil
}

// needsDownload applies the scan policy to one entry.
func (s *Scanner) needsDownload(entry manifest.Entry, binDir string, policy Policy) bool {
	dest := filepath.Join(binDir, filepath.FromSlash(entry.RelPath))

	info, err := s.fs.Stat(dest)
	if err != nil {
		// Absent (or unreadable) files always download.
		return true
	}

	if policy.Has(MissingOnly) {
		return false
	}

	if policy.Has(TrustCacheOnly) &&
		s.cache.IsFresh(entry.RelPath, info.ModTime(), info.Size()) {
		return false
	}

	if policy.Has(CompareSize) && info.Size() != entry.Size {
		return true
	}

	if policy.Has(CompareDigest) {
		digest, err := s.digestFor(entry.RelPath, dest, info.ModTime(), info.Size(), policy)
		if err != nil {
			s.log.Warn("cannot hash local file, will re-download",
				slog.String("path", entry.RelPath), slog.Any("error", err))
			return true
		}
		if !strings.EqualFold(digest, entry.MD5) {
			return true
		}
	}

	return false
}

// digestFor returns the file's MD5, served from a fresh cache entry
// when allowed, computing and recording it otherwise.
func (s *Scanner) digestFor(relPath, dest string, mtime time.Time, size int64, policy Policy) (string, error) {
	if !policy.Has(ForceRehash) && s.cache.IsFresh(relPath, mtime, size) {
		if entry, ok := s.cache.Lookup(relPath); ok {
			return entry.MD5, nil
		}
	}

	digest, err := s.hashFile(dest)
	if err != nil {
		return "", err
	}

	s.cache.Record(relPath, digest, size, mtime)
	return digest, nil
}

// hashFile computes the streaming MD5 of a local file.
func (s *Scanner) hashFile(dest string) (string, error) {
	f, err := s.fs.Open(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
