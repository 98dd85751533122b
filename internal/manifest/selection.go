package manifest

// Well-known document names on the patch server.
const (
	RootName     = "management_beta.txt"
	PrologueList = "patchlist_prologue.txt"
	RebootList   = "patchlist_reboot.txt"
	LauncherList = "launcherlist.txt"
)

// Selection picks which sub-lists form the dataset.
type Selection int

const (
	// FullDataset unions prologue, reboot and launcher lists.
	FullDataset Selection = iota

	// MainOnly unions reboot and launcher lists.
	MainOnly

	// LauncherOnly uses the launcher list alone.
	LauncherOnly
)

func (s Selection) String() string {
	switch s {
	case MainOnly:
		return "main"
	case LauncherOnly:
		return "launcher"
	default:
		return "full"
	}
}

// lists returns the sub-lists to fetch for the selection, in
// precedence order: a later list overrides an earlier one, except the
// launcher list which only fills gaps.
func (s Selection) lists() []listSpec {
	switch s {
	case MainOnly:
		return []listSpec{
			{RebootList, true, false},
			{LauncherList, false, true},
		}
	case LauncherOnly:
		return []listSpec{
			{LauncherList, false, true},
		}
	default:
		return []listSpec{
			{PrologueList, false, false},
			{RebootList, true, false},
			{LauncherList, false, true},
		}
	}
}

type listSpec struct {
	name     string
	reboot   bool
	fillOnly bool // only add entries no earlier list provided
}

// Union merges entry lists by de-duplication key. Later lists win,
// unless fillOnly, in which case existing entries are kept.
func union(batches [][]Entry, specs []listSpec) []Entry {
	index := make(map[string]int)
	var merged []Entry

	for i, batch := range batches {
		fillOnly := specs[i].fillOnly
		for _, entry := range batch {
			key := entry.Key()
			if at, ok := index[key]; ok {
				if !fillOnly {
					merged[at] = entry
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, entry)
		}
	}

	return merged
}
