package manifest

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrManifestParse is returned when the root descriptor is missing a
// required field. Fatal for the run: without base URLs nothing can be
// fetched.
var ErrManifestParse = errors.New("manifest: root descriptor missing required field")

// Root descriptor advisory defaults.
const (
	DefaultThreadNum         = 1
	DefaultParallelThreadNum = 1
	DefaultRetryNum          = 10
	DefaultTimeoutMillis     = 30000
)

// RootDescriptor is the parsed management document: the base URLs all
// downloads hang off, plus server advisories. Immutable.
type RootDescriptor struct {
	PatchURL        string
	MasterURL       string
	BackupPatchURL  string
	BackupMasterURL string

	// Advisories. The servers publish suggested client behavior;
	// the engine treats them as hints, not contracts.
	ThreadNum         int
	ParallelThreadNum int
	RetryNum          int
	TimeoutMillis     int
}

// Timeout returns the advisory request timeout as a duration.
func (r *RootDescriptor) Timeout() time.Duration {
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

// baseFor picks one of the four base URLs by channel and backup flag.
// Unknown-channel entries use the patch base. A missing backup falls
// back to the primary.
func (r *RootDescriptor) baseFor(c Channel, useBackup bool) string {
	if c == ChannelMaster {
		if useBackup && r.BackupMasterURL != "" {
			return r.BackupMasterURL
		}
		return r.MasterURL
	}
	if useBackup && r.BackupPatchURL != "" {
		return r.BackupPatchURL
	}
	return r.PatchURL
}

// ParseRoot parses the management document: line-oriented key=value
// text. Unknown keys are ignored; malformed numeric values keep their
// defaults. PatchURL and MasterURL are required.
func ParseRoot(body string) (*RootDescriptor, error) {
	root := &RootDescriptor{
		ThreadNum:         DefaultThreadNum,
		ParallelThreadNum: DefaultParallelThreadNum,
		RetryNum:          DefaultRetryNum,
		TimeoutMillis:     DefaultTimeoutMillis,
	}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "PatchURL":
			root.PatchURL = value
		case "MasterURL":
			root.MasterURL = value
		case "BackupPatchURL":
			root.BackupPatchURL = value
		case "BackupMasterURL":
			root.BackupMasterURL = value
		case "ThreadNum":
			setInt(&root.ThreadNum, value)
		case "ParallelThreadNum":
			setInt(&root.ParallelThreadNum, value)
		case "RetryNum":
			setInt(&root.RetryNum, value)
		case "TimeOut":
			setInt(&root.TimeoutMillis, value)
		}
	}

	if root.PatchURL == "" || root.MasterURL == "" {
		return nil, ErrManifestParse
	}
	return root, nil
}

func setInt(dst *int, value string) {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		*dst = n
	}
}
