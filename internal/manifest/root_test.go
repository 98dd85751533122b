package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRootDefaults(t *testing.T) {
	root, err := ParseRoot("PatchURL=https://patch.example/patch\nMasterURL=https://patch.example/master\n")
	require.NoError(t, err)

	assert.Equal(t, "https://patch.example/patch", root.PatchURL)
	assert.Equal(t, "https://patch.example/master", root.MasterURL)
	assert.Equal(t, DefaultThreadNum, root.ThreadNum)
	assert.Equal(t, DefaultParallelThreadNum, root.ParallelThreadNum)
	assert.Equal(t, DefaultRetryNum, root.RetryNum)
	assert.Equal(t, DefaultTimeoutMillis, root.TimeoutMillis)
	assert.Equal(t, 30*time.Second, root.Timeout())
}

func TestParseRootAllFields(t *testing.T) {
	body := `PatchURL=https://p.example/patch
MasterURL=https://p.example/master
BackupPatchURL=https://b.example/patch
BackupMasterURL=https://b.example/master
ThreadNum=4
ParallelThreadNum=8
RetryNum=5
TimeOut=10000
SomeUnknownKey=ignored
`
	root, err := ParseRoot(body)
	require.NoError(t, err)

	assert.Equal(t, "https://b.example/patch", root.BackupPatchURL)
	assert.Equal(t, "https://b.example/master", root.BackupMasterURL)
	assert.Equal(t, 4, root.ThreadNum)
	assert.Equal(t, 8, root.ParallelThreadNum)
	assert.Equal(t, 5, root.RetryNum)
	assert.Equal(t, 10000, root.TimeoutMillis)
}

func TestParseRootMissingRequired(t *testing.T) {
	_, err := ParseRoot("MasterURL=https://p.example/master\n")
	assert.ErrorIs(t, err, ErrManifestParse)

	_, err = ParseRoot("PatchURL=https://p.example/patch\n")
	assert.ErrorIs(t, err, ErrManifestParse)
}

func TestParseRootMalformedNumbersKeepDefaults(t *testing.T) {
	body := "PatchURL=u\nMasterURL=v\nRetryNum=banana\nTimeOut=-5\n"
	root, err := ParseRoot(body)
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryNum, root.RetryNum)
	assert.Equal(t, DefaultTimeoutMillis, root.TimeoutMillis)
}

func TestBaseForSelection(t *testing.T) {
	root := &RootDescriptor{
		PatchURL:        "p",
		MasterURL:       "m",
		BackupPatchURL:  "bp",
		BackupMasterURL: "bm",
	}

	assert.Equal(t, "p", root.baseFor(ChannelPatch, false))
	assert.Equal(t, "p", root.baseFor(ChannelUnknown, false))
	assert.Equal(t, "m", root.baseFor(ChannelMaster, false))
	assert.Equal(t, "bp", root.baseFor(ChannelPatch, true))
	assert.Equal(t, "bm", root.baseFor(ChannelMaster, true))

	// Missing backups fall back to the primaries.
	root.BackupPatchURL = ""
	root.BackupMasterURL = ""
	assert.Equal(t, "p", root.baseFor(ChannelPatch, true))
	assert.Equal(t, "m", root.baseFor(ChannelMaster, true))
}
