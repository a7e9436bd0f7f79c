// Package state persists the published topology cache.
package state

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"smbhood/internal/logging"
	"smbhood/internal/topology"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

const (
	// CacheFileName is the name of the topology cache inside the settings directory.
	CacheFileName = "smbhood.cache"

	cacheFileMode = 0644
	settingsMode  = 0700
)

// Manager publishes topology snapshots to the cache file and reads them back.
type Manager struct {
	cachePath string
	// serializes publishers; readers never take it since rename is atomic
	mu sync.Mutex
}

// NewManager creates a manager for the cache file at cachePath.
// It ensures the containing directory exists and is writable.
func NewManager(cachePath string) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", cachePath)

	absPath, err := filepath.Abs(cachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache path %s: %w", cachePath, err)
	}

	cacheDir := filepath.Dir(absPath)
	logger.Debug("Ensuring cache directory exists: %s", cacheDir)
	if mkdirErr := os.MkdirAll(cacheDir, settingsMode); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cacheDir, mkdirErr)
	}

	// Verify we can create files next to the cache
	probe, probeErr := os.CreateTemp(cacheDir, ".probe-*")
	if probeErr != nil {
		return nil, fmt.Errorf("cache directory %s is not writable: %w", cacheDir, probeErr)
	}
	probe.Close()
	os.Remove(probe.Name())

	logger.Info("State manager initialization complete")
	return &Manager{cachePath: absPath}, nil
}

// Path returns the absolute cache file path.
func (m *Manager) Path() string {
	return m.cachePath
}

// Publish atomically replaces the cache file with snap. The lines are
// written to a temp file in the same directory which is then renamed over
// the cache, so readers see either the previous or the new cache in full.
// On failure the previous cache stays in place.
func (m *Manager) Publish(snap topology.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.Debug("Publishing %d entries to: %s", snap.Len(), m.cachePath)

	tmp, err := os.CreateTemp(filepath.Dir(m.cachePath), "."+CacheFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, line := range snap.Lines() {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("failed to write temp cache file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp cache file: %w", err)
	}
	if err := tmp.Chmod(cacheFileMode); err != nil {
		return fmt.Errorf("failed to chmod temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, m.cachePath); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	success = true

	logger.Info("Published topology cache with %d entries", snap.Len())
	return nil
}

// Load reads the current cache file. A missing cache yields an error
// matching fs.ErrNotExist.
func (m *Manager) Load() ([]string, fs.FileInfo, error) {
	f, err := os.Open(m.cachePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat cache file: %w", err)
	}

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	logger.Trace("Loaded %d cache lines", len(lines))
	return lines, info, nil
}

// Stat returns the cache file's metadata.
func (m *Manager) Stat() (fs.FileInfo, error) {
	return os.Stat(m.cachePath)
}

// Age reports how long ago the cache was last published. ok is false when
// no cache exists.
func (m *Manager) Age(now time.Time) (age time.Duration, ok bool) {
	info, err := m.Stat()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to stat cache file: %v", err)
		}
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}
