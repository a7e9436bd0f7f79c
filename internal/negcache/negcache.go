// Package negcache remembers recently failed lookups so repeated probes for
// absent files do not reach the network.
package negcache

import (
	"sync"
	"syscall"
	"time"

	"smbhood/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("negcache")
)

type entry struct {
	errno    syscall.Errno
	lastSeen time.Time
}

// Cache maps virtual paths to the error their last lookup returned.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose entries are honoured for ttl after being recorded.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTTL changes the TTL applied to existing and future entries.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// ShouldShortCircuit returns the recorded error for path while its entry is
// younger than the TTL.
func (c *Cache) ShouldShortCircuit(path string) (syscall.Errno, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok || c.now().Sub(e.lastSeen) >= c.ttl {
		return 0, false
	}
	logger.Trace("Short circuit %q with %v", path, e.errno)
	return e.errno, true
}

// Record stores errno for path, replacing any previous entry and its age.
func (c *Cache) Record(path string, errno syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = entry{errno: errno, lastSeen: c.now()}
}

// Invalidate forgets path, e.g. after it was created.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Sweep removes entries that are no longer honoured and returns how many
// were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for path, e := range c.entries {
		if now.Sub(e.lastSeen) >= c.ttl {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		logger.Debug("Swept %d expired entries, %d left", removed, len(c.entries))
	}
	return removed
}

// Len is the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
