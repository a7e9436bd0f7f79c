package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smbhood/internal/config"
	"smbhood/internal/resolve"
	"smbhood/internal/state"
	"smbhood/internal/topology"
)

func testResolver(t *testing.T) *resolve.Resolver {
	t.Helper()
	mgr, err := state.NewManager(filepath.Join(t.TempDir(), state.CacheFileName))
	require.NoError(t, err)
	require.NoError(t, mgr.Publish(topology.SnapshotFromLines([]string{
		"/WG/ALPHA/Docs",
		"/WG/ALPHA/Private$",
		"/WG/BETA/Share1",
	})))
	return resolve.New(mgr, resolve.HiddenShareFunc(func(string, string) bool { return false }))
}

func TestList(t *testing.T) {
	r := testResolver(t)

	tests := []struct {
		path string
		want string
	}{
		{"/", "WG\n"},
		{"/WG", "ALPHA\nBETA\n"},
		{"/WG/ALPHA", "Docs\n"},
		{"/WG/ALPHA/Docs", "/WG/ALPHA/Docs is a share; its contents live on /ALPHA/Docs\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, list(&out, r, topology.ParsePath(tt.path)))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestListErrors(t *testing.T) {
	r := testResolver(t)

	var out bytes.Buffer
	assert.Error(t, list(&out, r, topology.ParsePath("/WG/ALP")))
	assert.Error(t, list(&out, r, topology.ParsePath("/WG/ALPHA/Nope")))
	assert.Error(t, list(&out, r, topology.ParsePath("/WG/ALPHA/Docs/file")))
	assert.Empty(t, out.String())
}

func TestResolveSettingsDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	old := settingsDir
	t.Cleanup(func() { settingsDir = old })

	settingsDir = "~/.smbhood"
	dir, err := resolveSettingsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".smbhood"), dir)

	settingsDir = "/tmp/x/../smbhood"
	dir, err = resolveSettingsDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/smbhood", dir)
}

func TestSetupCreatesSettings(t *testing.T) {
	old := settingsDir
	t.Cleanup(func() { settingsDir = old })
	settingsDir = filepath.Join(t.TempDir(), "settings")

	c, err := setup()
	require.NoError(t, err)
	defer c.pool.Close()

	info, err := os.Stat(filepath.Join(settingsDir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, filepath.Join(settingsDir, state.CacheFileName), c.cache.Path())
}

func TestSetupRejectsUnsafeSettings(t *testing.T) {
	old := settingsDir
	t.Cleanup(func() { settingsDir = old })
	settingsDir = t.TempDir()

	path := filepath.Join(settingsDir, config.FileName)
	require.NoError(t, os.WriteFile(path, nil, 0644))
	require.NoError(t, os.Chmod(path, 0644))

	_, err := setup()
	assert.Error(t, err)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["mount"])
	assert.True(t, names["scan"])
	assert.True(t, names["ls"])
}

// lockedBuffer is a bytes.Buffer safe for the logger goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMetricsServerErrorIsLoggedOnce(t *testing.T) {
	var logs lockedBuffer
	logger.SetOutput(&logs)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	r, w, err := os.Pipe()
	require.NoError(t, err)
	stderr := os.Stderr
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = stderr })

	startMetrics("127.0.0.1:-1")
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Metrics server error")
	}, 2*time.Second, 10*time.Millisecond)

	os.Stderr = stderr
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, string(out))
	assert.Equal(t, 1, strings.Count(logs.String(), "Metrics server error"))
}
