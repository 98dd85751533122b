package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/Sakurayuki-A/StarDriver/internal/cache"
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
	"github.com/Sakurayuki-A/StarDriver/internal/progress"
	"github.com/Sakurayuki-A/StarDriver/internal/testutils"
)

const binDir = "/game/pso2_bin"

// countingFs counts file opens so tests can assert that a policy
// never read file content.
type countingFs struct {
	afero.Fs
	opens atomic.Int64
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.opens.Add(1)
	return c.Fs.Open(name)
}

func newScanner(t *testing.T, fs afero.Fs) (*Scanner, *cache.Cache) {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })

	log := slog.New(discardHandler)
	dcache := cache.New(bucket, log)
	return New(fs, dcache, progress.NullSink{}, log), dcache
}

func writeFile(t *testing.T, fs afero.Fs, rel string, data []byte) {
	t.Helper()
	dest := filepath.Join(binDir, filepath.FromSlash(rel))
	require.NoError(t, fs.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, afero.WriteFile(fs, dest, data, 0o644))
}

func mkEntry(rel string, data []byte) manifest.Entry {
	return manifest.Entry{
		Name:    rel + ".pat",
		RelPath: rel,
		Size:    int64(len(data)),
		MD5:     testutils.MD5Hex(data),
	}
}

func TestScanMissingFileEnqueues(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, _ := newScanner(t, fs)

	need, err := s.Scan(context.Background(),
		[]manifest.Entry{mkEntry("data/missing.bin", []byte("abcd"))},
		binDir, DefaultPolicy)
	require.NoError(t, err)
	require.Len(t, need, 1)
	assert.Equal(t, "data/missing.bin", need[0].RelPath)
}

func TestScanMatchingFileSkips(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, _ := newScanner(t, fs)

	data := []byte("hello world")
	writeFile(t, fs, "a.bin", data)

	need, err := s.Scan(context.Background(),
		[]manifest.Entry{mkEntry("a.bin", data)}, binDir, DefaultPolicy)
	require.NoError(t, err)
	assert.Empty(t, need)
}

func TestScanSizeMismatchEnqueuesWithoutHashing(t *testing.T) {
	base := afero.NewMemMapFs()
	writeFile(t, base, "a.bin", []byte("short"))

	cfs := &countingFs{Fs: base}
	s, _ := newScanner(t, cfs)

	entry := mkEntry("a.bin", []byte("a longer payload"))
	need, err := s.Scan(context.Background(), []manifest.Entry{entry}, binDir, DefaultPolicy)
	require.NoError(t, err)
	require.Len(t, need, 1)
	assert.Equal(t, int64(0), cfs.opens.Load(), "size mismatch must not hash")
}

func TestScanDigestMismatchEnqueues(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, _ := newScanner(t, fs)

	writeFile(t, fs, "a.bin", []byte("xxxx"))
	entry := mkEntry("a.bin", []byte("yyyy")) // same size, different bytes

	need, err := s.Scan(context.Background(), []manifest.Entry{entry}, binDir, DefaultPolicy)
	require.NoError(t, err)
	assert.Len(t, need, 1)
}

func TestScanMissingOnlyNeverOpensFiles(t *testing.T) {
	base := afero.NewMemMapFs()
	writeFile(t, base, "present.bin", []byte("whatever content"))

	cfs := &countingFs{Fs: base}
	s, _ := newScanner(t, cfs)

	entries := []manifest.Entry{
		mkEntry("present.bin", []byte("different content!!")),
		mkEntry("absent.bin", []byte("abcd")),
	}
	need, err := s.Scan(context.Background(), entries, binDir, MissingOnly)
	require.NoError(t, err)

	require.Len(t, need, 1)
	assert.Equal(t, "absent.bin", need[0].RelPath)
	assert.Equal(t, int64(0), cfs.opens.Load())
}

func TestScanUsesFreshCacheDigest(t *testing.T) {
	base := afero.NewMemMapFs()
	data := []byte("cached content")
	writeFile(t, base, "a.bin", data)

	cfs := &countingFs{Fs: base}
	s, dcache := newScanner(t, cfs)

	info, err := base.Stat(filepath.Join(binDir, "a.bin"))
	require.NoError(t, err)
	dcache.Record("a.bin", testutils.MD5Hex(data), info.Size(), info.ModTime())

	need, err := s.Scan(context.Background(),
		[]manifest.Entry{mkEntry("a.bin", data)}, binDir, DefaultPolicy)
	require.NoError(t, err)
	assert.Empty(t, need)
	assert.Equal(t, int64(0), cfs.opens.Load(), "fresh cache entry skips the rehash")
}

func TestScanStaleCacheRehashes(t *testing.T) {
	base := afero.NewMemMapFs()
	data := []byte("current content")
	writeFile(t, base, "a.bin", data)

	cfs := &countingFs{Fs: base}
	s, dcache := newScanner(t, cfs)

	// Cache claims a different size: stale, must not be trusted.
	dcache.Record("a.bin", testutils.MD5Hex([]byte("old")), 3, time.Now())

	need, err := s.Scan(context.Background(),
		[]manifest.Entry{mkEntry("a.bin", data)}, binDir, DefaultPolicy)
	require.NoError(t, err)
	assert.Empty(t, need, "file content matches the manifest")
	assert.Equal(t, int64(1), cfs.opens.Load(), "stale entry forces a rehash")

	// The rehash refreshed the cache.
	entry, ok := dcache.Lookup("a.bin")
	require.True(t, ok)
	assert.Equal(t, testutils.MD5Hex(data), entry.MD5)
}

func TestScanForceRehashIgnoresCache(t *testing.T) {
	base := afero.NewMemMapFs()
	data := []byte("some content")
	writeFile(t, base, "a.bin", data)

	cfs := &countingFs{Fs: base}
	s, dcache := newScanner(t, cfs)

	info, err := base.Stat(filepath.Join(binDir, "a.bin"))
	require.NoError(t, err)
	dcache.Record("a.bin", testutils.MD5Hex(data), info.Size(), info.ModTime())

	_, err = s.Scan(context.Background(),
		[]manifest.Entry{mkEntry("a.bin", data)}, binDir, DefaultPolicy|ForceRehash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfs.opens.Load())
}

func TestScanTrustCacheOnly(t *testing.T) {
	base := afero.NewMemMapFs()
	data := []byte("anything at all")
	writeFile(t, base, "a.bin", data)

	cfs := &countingFs{Fs: base}
	s, dcache := newScanner(t, cfs)

	info, err := base.Stat(filepath.Join(binDir, "a.bin"))
	require.NoError(t, err)
	// The cached digest does not even match the manifest; with
	// TrustCacheOnly a fresh entry still skips the file.
	dcache.Record("a.bin", testutils.MD5Hex([]byte("unrelated")), info.Size(), info.ModTime())

	manifestEntry := mkEntry("a.bin", []byte("mismatching data"))
	manifestEntry.Size = info.Size()

	need, err := s.Scan(context.Background(),
		[]manifest.Entry{manifestEntry}, binDir,
		DefaultPolicy|TrustCacheOnly)
	require.NoError(t, err)
	assert.Empty(t, need)
	assert.Equal(t, int64(0), cfs.opens.Load())
}

func TestScanProgressEvents(t *testing.T) {
	fs := afero.NewMemMapFs()

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	log := slog.New(discardHandler)

	sink := &recordingSink{}
	s := New(fs, cache.New(bucket, log), sink, log)

	entries := make([]manifest.Entry, 250)
	for i := range entries {
		entries[i] = mkEntry(fmt.Sprintf("d/file%03d.bin", i), []byte("x"))
	}

	_, err = s.Scan(context.Background(), entries, binDir, DefaultPolicy)
	require.NoError(t, err)

	final := sink.last.Load()
	assert.Equal(t, int64(250), final, "final progress reports the full total")
}

type recordingSink struct {
	progress.NullSink
	last atomic.Int64
}

func (r *recordingSink) OnScanProgress(scanned, total int) {
	r.last.Store(int64(scanned))
}
