package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Sakurayuki-A/StarDriver/internal/bufpool"
	"github.com/Sakurayuki-A/StarDriver/internal/cache"
	"github.com/Sakurayuki-A/StarDriver/internal/health"
	sdhttp "github.com/Sakurayuki-A/StarDriver/internal/http"
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
	"github.com/Sakurayuki-A/StarDriver/internal/progress"
	"github.com/Sakurayuki-A/StarDriver/internal/scheduler"
)

const (
	// chunkSize is the per-read size during streaming.
	chunkSize = 64 * 1024

	// Progress notification throttle: one event per this many bytes
	// or per second, whichever comes first.
	progressBytes    = 256 * 1024
	progressInterval = time.Second
)

// sleepFunc waits for d or until the context is cancelled. Injectable
// so tests can observe backoff delays without waiting them out.
type sleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker drains the task queue and runs the fetch-verify-install
// pipeline for each task it acquires. It terminates when all three
// tiers are empty.
type worker struct {
	id       int
	affinity scheduler.Tier
	queue    *scheduler.Queue[*Task]
	opener   manifest.StreamOpener
	fs       afero.Fs
	cache    *cache.Cache
	health   *health.Monitor
	bufs     *bufpool.Pool
	sink     progress.Sink
	log      *slog.Logger

	maxRetries int
	sleep      sleepFunc
}

func (w *worker) run(ctx context.Context) {
	for {
		task, ok := w.queue.Poll(w.affinity)
		if !ok {
			return
		}
		w.process(ctx, task)

		if ctx.Err() != nil {
			return
		}
	}
}

// process runs the retry loop for one task. Every attempt streams the
// file to <dest>.dtmp, verifies the digest, and installs atomically.
func (w *worker) process(ctx context.Context, task *Task) {
	task.Status = StatusDownloading
	tmp := task.TempPath()

	var lastKind sdhttp.ErrorKind
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if ctx.Err() != nil {
			task.Status = StatusCancelled
			return
		}

		kind, err := w.attempt(ctx, task, tmp)
		if kind == sdhttp.KindNone {
			return
		}
		if kind == sdhttp.KindCancelled {
			// The temp file stays behind; the next attempt or run
			// truncates it.
			task.Status = StatusCancelled
			return
		}

		task.Retries++
		task.LastErr = err.Error()
		lastKind = kind
		w.health.Error(errorLabel(kind, err))
		w.log.Warn("download attempt failed",
			slog.Int("worker", w.id),
			slog.String("path", task.Entry.RelPath),
			slog.Int("attempt", attempt+1),
			slog.String("kind", kind.String()),
			slog.Any("error", err))

		if !kind.Retryable() || attempt == w.maxRetries {
			break
		}
		if err := w.sleep(ctx, kind.Backoff()); err != nil {
			task.Status = StatusCancelled
			return
		}
	}

	if lastKind.Retryable() {
		task.LastErr = fmt.Sprintf("exceeded max retries (%d): %s", w.maxRetries, task.LastErr)
	}
	task.Status = StatusFailed
	w.fs.Remove(tmp)
	w.sink.OnFileVerified(w.id, task.Entry.RelPath, false)
}

// attempt runs one full fetch-verify-install pass. It returns
// KindNone on success; any other kind counts as a failed attempt.
// Unexpected panics are recorded as Unhandled and do not kill the
// worker.
func (w *worker) attempt(ctx context.Context, task *Task, tmp string) (kind sdhttp.ErrorKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind = sdhttp.KindUnhandled
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	stream, err := w.opener.OpenStream(ctx, task.Entry, false)
	if err != nil {
		var se *manifest.StatusError
		if errors.As(err, &se) {
			return se.Kind(), err
		}
		return sdhttp.Classify(err), err
	}
	defer stream.Body.Close()

	expected := stream.Length
	if expected < 0 {
		expected = task.Entry.Size
	}

	if err := w.fs.MkdirAll(filepath.Dir(task.Dest), 0o755); err != nil {
		return sdhttp.KindIO, fmt.Errorf("create parent dir: %w", err)
	}

	digest, kind, err := w.streamToTemp(ctx, task, tmp, stream.Body, expected)
	if err != nil {
		return kind, err
	}

	task.Status = StatusVerifying
	if !strings.EqualFold(digest, task.Entry.MD5) {
		w.fs.Remove(tmp)
		return sdhttp.KindDigestMismatch,
			fmt.Errorf("digest mismatch: got %s, want %s", digest, task.Entry.MD5)
	}

	if err := w.install(task, tmp, digest); err != nil {
		return sdhttp.KindIO, err
	}

	task.Status = StatusCompleted
	w.health.Success()
	w.sink.OnDownloadProgress(w.id, task.Entry.RelPath, task.BytesDone, expected)
	w.sink.OnFileVerified(w.id, task.Entry.RelPath, true)
	return sdhttp.KindNone, nil
}

// streamToTemp copies the response body to the temp file while
// feeding the incremental MD5. The write of each chunk is dispatched
// concurrently with hashing it; a buffer is reused only after its
// write completed. Cancellation is polled between reads.
func (w *worker) streamToTemp(ctx context.Context, task *Task, tmp string, body io.Reader, expected int64) (string, sdhttp.ErrorKind, error) {
	f, err := w.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", sdhttp.KindIO, fmt.Errorf("open temp file: %w", err)
	}

	// Preallocate to the expected length to reduce fragmentation.
	if expected > 0 {
		if err := f.Truncate(expected); err != nil {
			f.Close()
			return "", sdhttp.KindIO, fmt.Errorf("preallocate: %w", err)
		}
	}

	digest, kind, err := w.copyAndHash(ctx, task, f, body, expected)
	if cerr := f.Close(); err == nil && cerr != nil {
		return "", sdhttp.KindIO, fmt.Errorf("close temp file: %w", cerr)
	}
	return digest, kind, err
}

func (w *worker) copyAndHash(ctx context.Context, task *Task, f afero.File, body io.Reader, expected int64) (string, sdhttp.ErrorKind, error) {
	bufA := w.bufs.Get()
	bufB := w.bufs.Get()
	defer w.bufs.Put(bufA)
	defer w.bufs.Put(bufB)

	h := md5.New()
	cur, other := bufA, bufB

	var pending chan error
	await := func() error {
		if pending == nil {
			return nil
		}
		err := <-pending
		pending = nil
		return err
	}

	task.BytesDone = 0
	var lastEmitBytes int64
	lastEmitAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			await()
			return "", sdhttp.KindCancelled, ctx.Err()
		default:
		}

		n, rerr := body.Read(cur[:chunkSize])
		if n > 0 {
			if werr := await(); werr != nil {
				return "", sdhttp.KindIO, fmt.Errorf("write chunk: %w", werr)
			}

			chunk := cur[:n]
			ch := make(chan error, 1)
			go func() {
				_, werr := f.Write(chunk)
				ch <- werr
			}()
			pending = ch

			h.Write(chunk)
			task.BytesDone += int64(n)

			if task.BytesDone-lastEmitBytes >= progressBytes ||
				time.Since(lastEmitAt) >= progressInterval {
				w.sink.OnDownloadProgress(w.id, task.Entry.RelPath, task.BytesDone, expected)
				lastEmitBytes = task.BytesDone
				lastEmitAt = time.Now()
			}

			cur, other = other, cur
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			await()
			return "", sdhttp.Classify(rerr), fmt.Errorf("read stream: %w", rerr)
		}
	}

	if werr := await(); werr != nil {
		return "", sdhttp.KindIO, fmt.Errorf("write chunk: %w", werr)
	}

	// The stream may have been shorter than the preallocation.
	if expected > 0 && task.BytesDone < expected {
		if err := f.Truncate(task.BytesDone); err != nil {
			return "", sdhttp.KindIO, fmt.Errorf("trim temp file: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return "", sdhttp.KindIO, fmt.Errorf("flush temp file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), sdhttp.KindNone, nil
}

// install atomically replaces the destination with the verified temp
// file and records the result in the digest cache.
func (w *worker) install(task *Task, tmp, digest string) error {
	// A read-only destination would make the rename fail on Windows.
	if info, err := w.fs.Stat(task.Dest); err == nil && info.Mode()&0o200 == 0 {
		if err := w.fs.Chmod(task.Dest, info.Mode()|0o200); err != nil {
			return fmt.Errorf("clear read-only: %w", err)
		}
	}

	if err := w.fs.Rename(tmp, task.Dest); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	info, err := w.fs.Stat(task.Dest)
	if err != nil {
		return fmt.Errorf("stat installed file: %w", err)
	}
	w.cache.Record(task.Entry.RelPath, digest, info.Size(), info.ModTime())
	return nil
}

// errorLabel is the health-record label for a failed attempt.
func errorLabel(kind sdhttp.ErrorKind, err error) string {
	if kind == sdhttp.KindUnhandled {
		return sdhttp.UnhandledLabel(err)
	}
	return kind.String()
}
