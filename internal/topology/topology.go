// Package topology holds the discovered workgroup/server/share hierarchy and
// the virtual path type used to address it.
package topology

import (
	"slices"
	"strings"
)

// Entry is one share of one server in one workgroup.
type Entry struct {
	Workgroup string
	Server    string
	Share     string
}

// String returns the serialized form "/workgroup/server/share".
func (e Entry) String() string {
	return "/" + e.Workgroup + "/" + e.Server + "/" + e.Share
}

// Snapshot is the immutable, sorted result of one scan.
type Snapshot struct {
	lines []string
}

// NewSnapshot sorts entries case-insensitively and removes exact duplicates.
func NewSnapshot(entries []Entry) Snapshot {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	return SnapshotFromLines(lines)
}

// SnapshotFromLines builds a snapshot from already serialized paths, e.g. a
// cache file read back from disk. Empty lines are dropped.
func SnapshotFromLines(lines []string) Snapshot {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	SortFold(out)
	return Snapshot{lines: slices.Compact(out)}
}

// Lines returns a copy of the serialized entries in order.
func (s Snapshot) Lines() []string {
	return slices.Clone(s.lines)
}

// Len is the number of entries.
func (s Snapshot) Len() int {
	return len(s.lines)
}

// SortFold sorts names case-insensitively. Names that differ only in case are
// ordered bytewise so exact duplicates always end up adjacent.
func SortFold(names []string) {
	slices.SortFunc(names, CompareFold)
}

// CompareFold orders a and b ignoring case, then bytewise.
func CompareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
