package downloader

import (
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
)

// TempSuffix is appended to a task's destination while the stream is
// being written. Only a verified temp file is ever renamed over the
// destination.
const TempSuffix = ".dtmp"

// Status is the lifecycle state of a download task.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusVerifying
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusVerifying:
		return "verifying"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is one file to bring into agreement with the manifest. It is
// owned by the scheduler while queued and by exactly one worker while
// in flight; after the pool drains, the engine reads the final state.
type Task struct {
	Entry manifest.Entry

	// Dest is the absolute destination path below pso2_bin.
	Dest string

	Status    Status
	BytesDone int64
	Retries   int
	LastErr   string
}

// newTask builds a pending task for a manifest entry.
func newTask(entry manifest.Entry, dest string) *Task {
	return &Task{
		Entry:  entry,
		Dest:   dest,
		Status: StatusPending,
	}
}

// TempPath returns the task's temporary download path.
func (t *Task) TempPath() string {
	return t.Dest + TempSuffix
}
