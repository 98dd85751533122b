package manifest

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// ParseList parses a manifest sub-list body. Rows are TAB-separated
// with two accepted shapes:
//
//	<name>\t<size>\t<md5>            channel unknown
//	<name>\t<md5>\t<size>\t<char>    'p' = patch channel
//
// Unparseable rows are logged and skipped; a bad row never aborts the
// whole list. reboot tags every parsed entry as belonging to the
// reboot dataset.
func ParseList(body string, reboot bool, log *slog.Logger) []Entry {
	var entries []Entry

	for i, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := parseLine(line, reboot)
		if err != nil {
			log.Warn("skipping manifest row",
				slog.Int("line", i+1), slog.Any("error", err))
			continue
		}
		entries = append(entries, entry)
	}

	return entries
}

func parseLine(line string, reboot bool) (Entry, error) {
	fields := strings.Split(line, "\t")

	switch len(fields) {
	case 3:
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("parse size %q: %w", fields[1], err)
		}
		return newEntry(fields[0], size, fields[2], ChannelUnknown, reboot)

	case 4:
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("parse size %q: %w", fields[2], err)
		}
		channel := ChannelMaster
		if fields[3] == "p" {
			channel = ChannelPatch
		}
		return newEntry(fields[0], size, fields[1], channel, reboot)

	default:
		return Entry{}, fmt.Errorf("unexpected field count %d", len(fields))
	}
}

func newEntry(name string, size int64, md5 string, channel Channel, reboot bool) (Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, fmt.Errorf("empty file name")
	}
	if size < 0 {
		return Entry{}, fmt.Errorf("negative size %d", size)
	}
	md5 = strings.ToLower(strings.TrimSpace(md5))
	if len(md5) != 32 {
		return Entry{}, fmt.Errorf("bad md5 %q", md5)
	}

	name = strings.ReplaceAll(name, "\\", "/")
	return Entry{
		Name:    name,
		RelPath: stripSuffix(name),
		Size:    size,
		MD5:     md5,
		Channel: channel,
		Reboot:  reboot,
	}, nil
}
