package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Reporter is a console Sink that prints human-readable progress.
type Reporter struct {
	out io.Writer

	mu         sync.Mutex
	totalFiles int
	started    time.Time
	lastLine   time.Time
	fileBytes  map[string]int64

	verified  atomic.Int32
	failed    atomic.Int32
	bytesDone atomic.Int64
}

var _ Sink = (*Reporter)(nil)

// NewReporter creates a reporter writing to out (os.Stderr if nil).
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	return &Reporter{out: out, fileBytes: make(map[string]int64)}
}

// OnScanProgress prints scan progress on a single updating line.
func (r *Reporter) OnScanProgress(scanned, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\r[stardriver] Scanning: %d/%d files", scanned, total)
	if scanned == total {
		fmt.Fprintln(r.out)
	}
}

// OnDownloadStarted prints the download header.
func (r *Reporter) OnDownloadStarted(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalFiles = total
	r.started = time.Now()
	fmt.Fprintf(r.out, "[stardriver] Downloading %d files\n", total)
}

// OnDownloadProgress accumulates byte counts; the line itself is
// repainted at most every 500ms. bytesDone is cumulative per file, so
// the delta against the last observation is what gets added.
func (r *Reporter) OnDownloadProgress(_ int, relPath string, bytesDone, _ int64) {
	r.mu.Lock()
	last := r.fileBytes[relPath]
	if bytesDone > last {
		r.bytesDone.Add(bytesDone - last)
		r.fileBytes[relPath] = bytesDone
	} else if bytesDone < last {
		// A retry restarted the stream.
		r.fileBytes[relPath] = bytesDone
	}
	r.mu.Unlock()
	r.paint(false)
}

// OnFileVerified counts terminal outcomes.
func (r *Reporter) OnFileVerified(_ int, relPath string, ok bool) {
	if ok {
		r.verified.Add(1)
	} else {
		r.failed.Add(1)
		r.mu.Lock()
		fmt.Fprintf(r.out, "\n[stardriver] FAILED: %s\n", relPath)
		r.mu.Unlock()
	}
	r.paint(false)
}

// OnDownloadCompleted prints the final summary.
func (r *Reporter) OnDownloadCompleted(ok bool, succeeded, failed, cancelled int) {
	r.paint(true)
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "complete"
	if cancelled > 0 {
		status = "cancelled"
	} else if !ok {
		status = "finished with errors"
	}
	fmt.Fprintf(r.out, "\n[stardriver] Sync %s: %d succeeded | %d failed | %d cancelled\n",
		status, succeeded, failed, cancelled)
	if !r.started.IsZero() {
		fmt.Fprintf(r.out, "[stardriver] Total time: %s\n", formatDuration(time.Since(r.started)))
	}
}

func (r *Reporter) paint(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(r.lastLine) < 500*time.Millisecond {
		return
	}
	r.lastLine = now

	done := int(r.verified.Load() + r.failed.Load())
	fmt.Fprintf(r.out, "\r[stardriver] Progress: %d/%d files | %s    ",
		done, r.totalFiles, FormatBytes(r.bytesDone.Load()))
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
