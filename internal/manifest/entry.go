package manifest

import (
	"path"
	"strings"
)

// EntrySuffix is the marker suffix every manifest row carries. It is
// stripped to form the on-disk relative path.
const EntrySuffix = ".pat"

// Channel selects the base-URL family an entry is fetched from.
type Channel int

const (
	// ChannelUnknown means the manifest row did not carry a channel
	// marker. Unknown entries are fetched from the patch base.
	ChannelUnknown Channel = iota

	// ChannelPatch entries are fetched from PatchURL.
	ChannelPatch

	// ChannelMaster entries are fetched from MasterURL.
	ChannelMaster
)

func (c Channel) String() string {
	switch c {
	case ChannelPatch:
		return "patch"
	case ChannelMaster:
		return "master"
	default:
		return "unknown"
	}
}

// Entry is one row of a manifest: a file the client must possess.
// Entries are immutable after parsing.
type Entry struct {
	// Name is the row's file name as it appears on the server,
	// including the trailing suffix.
	Name string

	// RelPath is Name with the suffix stripped: the path of the file
	// below pso2_bin, using forward slashes.
	RelPath string

	// Size is the expected file size in bytes.
	Size int64

	// MD5 is the expected digest, lower-case hex.
	MD5 string

	// Channel drives base-URL selection.
	Channel Channel

	// Reboot marks entries from the reboot dataset. Informational.
	Reboot bool
}

// Key returns the de-duplication key: the suffix-stripped relative
// path, case-folded. Two entries are the same file iff their keys
// match.
func (e Entry) Key() string {
	return strings.ToLower(e.RelPath)
}

// URL returns the download URL for the entry against the given root
// descriptor. useBackup selects the declared backup base when one
// exists, falling back to the primary otherwise.
func (e Entry) URL(root *RootDescriptor, useBackup bool) string {
	base := root.baseFor(e.Channel, useBackup)
	return joinURL(base, e.Name)
}

// joinURL joins base and name with exactly one slash between them.
func joinURL(base, name string) string {
	base = strings.TrimRight(base, "/")
	name = strings.TrimLeft(name, "/")
	return base + "/" + path.Clean(name)
}

// stripSuffix removes the entry suffix from a manifest file name,
// case-insensitively.
func stripSuffix(name string) string {
	if len(name) >= len(EntrySuffix) &&
		strings.EqualFold(name[len(name)-len(EntrySuffix):], EntrySuffix) {
		return name[:len(name)-len(EntrySuffix)]
	}
	return name
}
