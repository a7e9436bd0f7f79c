package topology

import (
	"path"
	"strings"
)

// Tier classifies a virtual path by depth.
type Tier int

const (
	TierRoot Tier = iota
	TierWorkgroup
	TierServer
	TierShare
	TierDeeper
)

func (t Tier) String() string {
	switch t {
	case TierRoot:
		return "root"
	case TierWorkgroup:
		return "workgroup"
	case TierServer:
		return "server"
	case TierShare:
		return "share"
	}
	return "deeper"
}

// Path is a cleaned, absolute virtual path split into segments.
type Path struct {
	segments []string
}

// ParsePath cleans p and splits it into segments. "" and "/" are the root.
func ParsePath(p string) Path {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return Path{}
	}
	return Path{segments: strings.Split(cleaned[1:], "/")}
}

// String returns the path with a leading separator.
func (p Path) String() string {
	return "/" + strings.Join(p.segments, "/")
}

// Segments returns the path components.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Depth is the number of segments.
func (p Path) Depth() int {
	return len(p.segments)
}

// Tier returns the hierarchy level of p.
func (p Path) Tier() Tier {
	if len(p.segments) >= int(TierDeeper) {
		return TierDeeper
	}
	return Tier(len(p.segments))
}

// IsRoot reports whether p is "/".
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// IsLeaf reports whether p names an entry directly inside a share.
func (p Path) IsLeaf() bool {
	return len(p.segments) == int(TierDeeper)
}

// Segment returns the i-th component, or "" when out of range.
func (p Path) Segment(i int) string {
	if i < 0 || i >= len(p.segments) {
		return ""
	}
	return p.segments[i]
}

// Workgroup, Server and Share return the first three components.
func (p Path) Workgroup() string { return p.Segment(0) }
func (p Path) Server() string    { return p.Segment(1) }
func (p Path) Share() string     { return p.Segment(2) }

// Base returns the last component, "/" for the root.
func (p Path) Base() string {
	if p.IsRoot() {
		return "/"
	}
	return p.segments[len(p.segments)-1]
}

// Join appends one component.
func (p Path) Join(name string) Path {
	return ParsePath(p.String() + "/" + name)
}

// Parent returns the containing path. The root is its own parent.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return p
	}
	return Path{segments: append([]string(nil), p.segments[:len(p.segments)-1]...)}
}

// Remote drops the workgroup component: /WG/SRV/SHARE/x becomes
// /SRV/SHARE/x. Paths shallower than a server are returned unchanged.
func (p Path) Remote() string {
	if len(p.segments) < 2 {
		return p.String()
	}
	return "/" + strings.Join(p.segments[1:], "/")
}

// HasPrefixLine reports whether a cache line equals p or continues it with a
// separator. A character level prefix such as /WG/ALP never matches
// /WG/ALPHA.
func (p Path) HasPrefixLine(line string) bool {
	if p.IsRoot() {
		return line != ""
	}
	s := p.String()
	if !strings.HasPrefix(line, s) {
		return false
	}
	return len(line) == len(s) || line[len(s)] == '/'
}

// NextSegment returns the component of line that follows p, if line lies
// strictly below p.
func (p Path) NextSegment(line string) (string, bool) {
	prefix := p.String()
	if !p.IsRoot() {
		prefix += "/"
	}
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// IsHiddenShare reports whether a share name carries the hidden marker.
func IsHiddenShare(name string) bool {
	return strings.HasSuffix(name, "$")
}
