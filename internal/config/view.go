package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"smbhood/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("config")
)

// Snapshot is one fully loaded configuration. It is never modified after
// construction, so it can be shared freely between goroutines.
type Snapshot struct {
	cfg     Config
	modTime time.Time
}

// NewSnapshot wraps a decoded configuration.
func NewSnapshot(cfg *Config, modTime time.Time) *Snapshot {
	return &Snapshot{cfg: *cfg, modTime: modTime}
}

// DefaultSnapshot is the configuration used when no settings file exists.
func DefaultSnapshot() *Snapshot {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return NewSnapshot(cfg, time.Time{})
}

// ModTime is the settings file modification time this snapshot was read at.
func (s *Snapshot) ModTime() time.Time { return s.modTime }

// Timeout is the per-operation network timeout.
func (s *Snapshot) Timeout() time.Duration {
	return time.Duration(s.cfg.Global.Timeout) * time.Second
}

// Interval is the time between scans. Zero disables periodic scanning.
func (s *Snapshot) Interval() time.Duration {
	return time.Duration(s.cfg.Global.Interval) * time.Minute
}

func (s *Snapshot) NegativeTTL() time.Duration   { return s.cfg.NegativeCache.TTL }
func (s *Snapshot) SweepInterval() time.Duration { return s.cfg.NegativeCache.Sweep }
func (s *Snapshot) ScanWorkers() int             { return s.cfg.Scan.Workers }
func (s *Snapshot) BroadcastAddr() string        { return s.cfg.Scan.Broadcast }

// IgnoredWorkgroup reports whether a workgroup is excluded from scans.
func (s *Snapshot) IgnoredWorkgroup(name string) bool {
	return slices.Contains(s.cfg.Ignore.Workgroups, strings.ToLower(name))
}

// IgnoredServer reports whether a server is listed in the ignore list or
// its own section sets ignore.
func (s *Snapshot) IgnoredServer(name string) bool {
	key := strings.ToLower(name)
	if slices.Contains(s.cfg.Ignore.Servers, key) {
		return true
	}
	srv, ok := s.cfg.Servers[key]
	return ok && srv.Ignore
}

// ShowHiddenShares decides whether shares ending in '$' are listed for a
// server. The server section wins over the workgroup section, which wins
// over the global option.
func (s *Snapshot) ShowHiddenShares(workgroup, server string) bool {
	if srv, ok := s.cfg.Servers[strings.ToLower(server)]; ok && srv.ShowHiddenShares != nil {
		return *srv.ShowHiddenShares
	}
	if wg, ok := s.cfg.Workgroups[strings.ToLower(workgroup)]; ok && wg.ShowHiddenShares != nil {
		return *wg.ShowHiddenShares
	}
	return s.cfg.Global.ShowHiddenShares
}

// Credentials resolves the login for a share: share section, then server
// section, then global, then anonymous. share may be empty for server level
// operations such as listing shares.
func (s *Snapshot) Credentials(server, share string) Credentials {
	if srv, ok := s.cfg.Servers[strings.ToLower(server)]; ok {
		if share != "" {
			if creds, ok := srv.Shares[strings.ToLower(share)]; ok && !creds.IsAnonymous() {
				return creds
			}
		}
		if !srv.Credentials.IsAnonymous() {
			return srv.Credentials
		}
	}
	if !s.cfg.Global.Credentials.IsAnonymous() {
		return s.cfg.Global.Credentials
	}
	return Credentials{}
}

// View hands out the current snapshot and swaps in a new one when the
// settings file changes.
type View struct {
	path    string
	current atomic.Pointer[Snapshot]
	// serializes reloads
	mu sync.Mutex
}

// NewView loads the settings file at path. Failing to read it is fatal for
// the caller.
func NewView(path string) (*View, error) {
	v := &View{path: path}
	snap, err := v.load()
	if err != nil {
		return nil, err
	}
	v.current.Store(snap)
	logger.Debug("Loaded configuration from %s", path)
	return v, nil
}

// NewStaticView serves a fixed snapshot, for callers without a settings file.
func NewStaticView(snap *Snapshot) *View {
	v := &View{}
	v.current.Store(snap)
	return v
}

// Current returns the live snapshot.
func (v *View) Current() *Snapshot {
	return v.current.Load()
}

// Credentials resolves credentials against the live snapshot.
func (v *View) Credentials(server, share string) Credentials {
	return v.Current().Credentials(server, share)
}

// ReloadIfChanged reloads the settings file when its modification time
// differs from the current snapshot's. A failed reload keeps the previous
// snapshot and is retried on the next call.
func (v *View) ReloadIfChanged() (bool, error) {
	if v.path == "" {
		return false, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	info, err := os.Stat(v.path)
	if err != nil {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.ModTime().Equal(v.Current().ModTime()) {
		return false, nil
	}

	snap, err := v.load()
	if err != nil {
		return false, err
	}
	v.current.Store(snap)
	logger.Info("Configuration reloaded from %s", v.path)
	return true, nil
}

func (v *View) load() (*Snapshot, error) {
	var modTime time.Time
	if info, err := os.Stat(v.path); err == nil {
		modTime = info.ModTime()
	}
	cfg, err := Load(v.path)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(cfg, modTime), nil
}
