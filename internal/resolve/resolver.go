// Package resolve answers existence and listing queries for the workgroup,
// server and share levels from the published topology cache.
package resolve

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"smbhood/internal/logging"
	"smbhood/internal/topology"
)

var (
	logger = logging.GetLogger().WithPrefix("resolve")
)

const (
	dirMode  = os.ModeDir | 0755
	dirNlink = 3
	dirSize  = 4096
)

// CacheSource reads the published cache.
type CacheSource interface {
	Load() ([]string, fs.FileInfo, error)
}

// HiddenSharePolicy decides whether hidden shares are listed.
type HiddenSharePolicy interface {
	ShowHiddenShares(workgroup, server string) bool
}

// HiddenShareFunc adapts a function to HiddenSharePolicy.
type HiddenShareFunc func(workgroup, server string) bool

func (f HiddenShareFunc) ShowHiddenShares(workgroup, server string) bool {
	return f(workgroup, server)
}

// DirAttr is the synthesized metadata of a topology directory. Entries carry
// no metadata of their own, so ownership and times come from the cache file.
type DirAttr struct {
	Mode  os.FileMode
	Nlink uint32
	Size  uint64
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Resolver classifies virtual paths and answers the topology tiers.
type Resolver struct {
	cache  CacheSource
	hidden HiddenSharePolicy
}

// New creates a resolver over cache.
func New(cache CacheSource, hidden HiddenSharePolicy) *Resolver {
	return &Resolver{cache: cache, hidden: hidden}
}

// load reads the cache. A missing or unreadable cache is ENOENT since it is
// the only source for the topology tiers.
func (r *Resolver) load() ([]string, fs.FileInfo, error) {
	lines, info, err := r.cache.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to read topology cache: %v", err)
		}
		return nil, nil, syscall.ENOENT
	}
	return lines, info, nil
}

// Exists reports the attributes of a path at share tier or above. The root
// always exists; any other path must equal a cache line or be one of its
// separator-bounded prefixes.
func (r *Resolver) Exists(p topology.Path) (DirAttr, error) {
	if p.Tier() > topology.TierShare {
		return DirAttr{}, syscall.EINVAL
	}

	lines, info, err := r.load()
	if err != nil {
		if p.IsRoot() {
			return baseAttr(time.Now()), nil
		}
		return DirAttr{}, err
	}
	if p.IsRoot() {
		return attrFromCache(info), nil
	}

	for _, line := range lines {
		if p.HasPrefixLine(line) {
			logger.Trace("Exists %q via %q", p, line)
			return attrFromCache(info), nil
		}
	}
	return DirAttr{}, syscall.ENOENT
}

// List returns the names directly below a path at server tier or above,
// followed by "." and "..". Hidden shares are dropped unless the policy
// allows them. A path with no children does not exist.
func (r *Resolver) List(p topology.Path) ([]string, error) {
	if p.Tier() > topology.TierServer {
		return nil, syscall.EINVAL
	}

	lines, _, err := r.load()
	if err != nil {
		return nil, err
	}

	showHidden := true
	if p.Tier() == topology.TierServer {
		showHidden = r.hidden.ShowHiddenShares(p.Workgroup(), p.Server())
	}

	var names []string
	seen := make(map[string]bool)
	for _, line := range lines {
		seg, ok := p.NextSegment(line)
		if !ok || seen[seg] {
			continue
		}
		seen[seg] = true
		if !showHidden && topology.IsHiddenShare(seg) {
			continue
		}
		names = append(names, seg)
	}

	if len(names) == 0 {
		return nil, syscall.ENOENT
	}
	logger.Trace("Listed %q: %d entries", p, len(names))
	return append(names, ".", ".."), nil
}

// Remote returns the network path for a path at share tier or deeper.
func (r *Resolver) Remote(p topology.Path) string {
	return p.Remote()
}

func baseAttr(t time.Time) DirAttr {
	return DirAttr{
		Mode:  dirMode,
		Nlink: dirNlink,
		Size:  dirSize,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: t,
		Mtime: t,
		Ctime: t,
	}
}

func attrFromCache(info fs.FileInfo) DirAttr {
	attr := baseAttr(info.ModTime())
	fillFromStat(&attr, info)
	return attr
}
