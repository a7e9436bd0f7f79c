// Package housekeeper runs the periodic background duties: session purge,
// topology scans, config reloads and negative cache sweeps.
package housekeeper

import (
	"context"
	"time"

	"smbhood/internal/config"
	"smbhood/internal/logging"
	"smbhood/internal/metrics"
	"smbhood/internal/topology"
)

var (
	logger = logging.GetLogger().WithPrefix("housekeeper")
)

// DefaultWakeInterval is how often the loop runs its duties.
const DefaultWakeInterval = 15 * time.Second

// SessionPool is the SMB session cache.
type SessionPool interface {
	Purge() int
	Len() int
	SetTimeout(d time.Duration)
}

// Scanner runs one topology scan.
type Scanner interface {
	Scan(ctx context.Context) (topology.Snapshot, error)
}

// Cache reports the age of the published topology.
type Cache interface {
	Age(now time.Time) (time.Duration, bool)
}

// Settings is the hot-reloadable configuration.
type Settings interface {
	Current() *config.Snapshot
	ReloadIfChanged() (bool, error)
}

// NegativeCache is swept periodically.
type NegativeCache interface {
	SetTTL(ttl time.Duration)
	Sweep() int
	Len() int
}

// Loop performs all duties in sequence on every wake, so runs never overlap.
type Loop struct {
	Pool     SessionPool
	Scanner  Scanner
	Cache    Cache
	Settings Settings
	Negative NegativeCache

	// Interval between wakes, DefaultWakeInterval when zero.
	Interval time.Duration
	// Now is the clock, time.Now when nil.
	Now func() time.Time

	lastSweep time.Time
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Run ticks once immediately and then on every wake until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultWakeInterval
	}

	l.Apply()
	l.Tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Tick(ctx)
		case <-ctx.Done():
			logger.Debug("Stopping")
			return
		}
	}
}

// Tick runs every duty once.
func (l *Loop) Tick(ctx context.Context) {
	l.purge()
	l.scanIfStale(ctx)
	l.reload()
	l.sweep()
}

func (l *Loop) purge() {
	if l.Pool == nil {
		return
	}
	purged := l.Pool.Purge()
	metrics.RecordPurge(purged, l.Pool.Len())
	if purged > 0 {
		logger.Debug("Purged %d idle sessions", purged)
	}
}

// scanIfStale scans when there is no cache yet or it is older than the
// configured interval. An interval of zero disables background scanning
// altogether; the cache is then only built by `smbhood scan`.
func (l *Loop) scanIfStale(ctx context.Context) {
	if l.Scanner == nil || l.Cache == nil {
		return
	}
	interval := l.Settings.Current().Interval()
	if interval <= 0 {
		return
	}
	age, ok := l.Cache.Age(l.now())
	switch {
	case !ok:
		logger.Info("No topology cache, scanning")
	case age >= interval:
		logger.Debug("Topology cache is %v old, scanning", age.Round(time.Second))
	default:
		return
	}
	if _, err := l.Scanner.Scan(ctx); err != nil {
		logger.Warn("Scan failed: %v", err)
	}
}

func (l *Loop) reload() {
	changed, err := l.Settings.ReloadIfChanged()
	if err != nil {
		logger.Warn("Failed to reload config, keeping previous: %v", err)
		return
	}
	if changed {
		logger.Info("Config reloaded")
		l.Apply()
	}
}

// Apply pushes the current settings into the components that cache them.
func (l *Loop) Apply() {
	cfg := l.Settings.Current()
	if l.Pool != nil {
		l.Pool.SetTimeout(cfg.Timeout())
	}
	if l.Negative != nil {
		l.Negative.SetTTL(cfg.NegativeTTL())
	}
}

func (l *Loop) sweep() {
	if l.Negative == nil {
		return
	}
	now := l.now()
	if !l.lastSweep.IsZero() && now.Sub(l.lastSweep) < l.Settings.Current().SweepInterval() {
		return
	}
	l.lastSweep = now
	if n := l.Negative.Sweep(); n > 0 {
		logger.Debug("Swept %d negative entries", n)
	}
	metrics.SetNegativeCacheEntries(l.Negative.Len())
}
