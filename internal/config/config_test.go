package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
global:
  timeout: 1
  interval: 30
  showhiddenshares: false
  username: guest
  password: guestpw
ignore:
  workgroups: [LAB]
  servers: "PRINTER1, printer2"
workgroups:
  HOME:
    showhiddenshares: true
servers:
  ALPHA:
    showhiddenshares: false
    username: alice
    password: secret
    shares:
      Docs:
        username: bob
        password: hunter2
  OLDBOX:
    ignore: true
negativecache:
  ttl: 5m
  sweep: 30s
scan:
  workers: 4
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	snap := NewSnapshot(cfg, time.Time{})
	assert.Equal(t, DefaultTimeout, snap.Timeout())
	assert.Equal(t, DefaultInterval, snap.Interval())
	assert.Equal(t, DefaultNegativeTTL, snap.NegativeTTL())
	assert.Equal(t, DefaultSweepInterval, snap.SweepInterval())
	assert.Equal(t, DefaultScanWorkers, snap.ScanWorkers())
	assert.Equal(t, DefaultBroadcastAddr, snap.BroadcastAddr())
	assert.True(t, snap.ShowHiddenShares("WG", "SRV"))
	assert.True(t, snap.Credentials("SRV", "SHARE").IsAnonymous())
}

func TestDefaultSnapshot(t *testing.T) {
	snap := DefaultSnapshot()
	assert.Equal(t, DefaultTimeout, snap.Timeout())
}

func TestLoadSample(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	snap := NewSnapshot(cfg, time.Time{})

	t.Run("timeout is clamped", func(t *testing.T) {
		assert.Equal(t, MinTimeout, snap.Timeout())
	})

	t.Run("durations", func(t *testing.T) {
		assert.Equal(t, 30*time.Minute, snap.Interval())
		assert.Equal(t, 5*time.Minute, snap.NegativeTTL())
		assert.Equal(t, 30*time.Second, snap.SweepInterval())
		assert.Equal(t, 4, snap.ScanWorkers())
	})

	t.Run("ignore lists", func(t *testing.T) {
		assert.True(t, snap.IgnoredWorkgroup("LAB"))
		assert.True(t, snap.IgnoredWorkgroup("lab"))
		assert.False(t, snap.IgnoredWorkgroup("HOME"))
		assert.True(t, snap.IgnoredServer("PRINTER1"))
		assert.True(t, snap.IgnoredServer("Printer2"))
		assert.True(t, snap.IgnoredServer("OLDBOX"), "per-server ignore flag")
		assert.False(t, snap.IgnoredServer("ALPHA"))
	})

	t.Run("hidden share precedence", func(t *testing.T) {
		assert.False(t, snap.ShowHiddenShares("WORK", "BETA"), "global")
		assert.True(t, snap.ShowHiddenShares("HOME", "BETA"), "workgroup overrides global")
		assert.False(t, snap.ShowHiddenShares("HOME", "ALPHA"), "server overrides workgroup")
	})

	t.Run("credential order", func(t *testing.T) {
		assert.Equal(t, "bob", snap.Credentials("ALPHA", "Docs").Username)
		assert.Equal(t, "bob", snap.Credentials("alpha", "DOCS").Username)
		assert.Equal(t, "alice", snap.Credentials("ALPHA", "Other").Username)
		assert.Equal(t, "alice", snap.Credentials("ALPHA", "").Username)
		assert.Equal(t, "guest", snap.Credentials("BETA", "Docs").Username)
	})
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "scan:\n  workers: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "negativecache:\n  ttl: -1s\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "global: [unbalanced\n"))
	assert.Error(t, err)
}

func TestIntervalZeroDisables(t *testing.T) {
	cfg, err := Load(writeConfig(t, "global:\n  interval: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, NewSnapshot(cfg, time.Time{}).Interval())
}

func TestEnsureFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("creates owner only file", func(t *testing.T) {
		path := filepath.Join(dir, "new.yaml")
		require.NoError(t, EnsureFile(path))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("accepts owner only file", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0400))
		assert.NoError(t, EnsureFile(path))
	})

	t.Run("rejects group readable file", func(t *testing.T) {
		path := filepath.Join(dir, "open.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0600))
		require.NoError(t, os.Chmod(path, 0640))
		assert.Error(t, EnsureFile(path))
	})
}
