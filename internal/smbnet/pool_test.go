package smbnet

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hirochachacha/go-smb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smbhood/internal/config"
)

type fakeCreds map[string]config.Credentials

func (f fakeCreds) Credentials(server, share string) config.Credentials {
	if c, ok := f[server+"/"+share]; ok {
		return c
	}
	return f[server+"/"]
}

var errSessionDeleted = &smb2.ResponseError{Code: statusUserSessionDeleted}

type fakeShare struct {
	calls   *[]string
	statErr error
	dead    bool
}

func (s *fakeShare) WithContext(context.Context) Share { return s }
func (s *fakeShare) Stat(name string) (fs.FileInfo, error) {
	*s.calls = append(*s.calls, "stat "+name)
	if s.dead {
		return nil, errSessionDeleted
	}
	return nil, s.statErr
}
func (s *fakeShare) ReadDir(name string) ([]fs.FileInfo, error) {
	*s.calls = append(*s.calls, "readdir "+name)
	return nil, nil
}
func (s *fakeShare) OpenFile(name string, _ int, _ fs.FileMode) (File, error) {
	*s.calls = append(*s.calls, "open "+name)
	if s.dead {
		return nil, errSessionDeleted
	}
	return &fakeFile{share: s}, nil
}

type fakeFile struct {
	share  *fakeShare
	closed bool
}

func (f *fakeFile) ReadAt(b []byte, _ int64) (int, error) {
	if f.share.dead {
		return 0, errSessionDeleted
	}
	return copy(b, "data"), nil
}
func (f *fakeFile) WriteAt(b []byte, _ int64) (int, error) { return len(b), nil }
func (f *fakeFile) Stat() (fs.FileInfo, error)             { return nil, nil }
func (f *fakeFile) Sync() error                            { return nil }
func (f *fakeFile) Close() error {
	f.closed = true
	return nil
}
func (s *fakeShare) Mkdir(name string, _ fs.FileMode) error {
	*s.calls = append(*s.calls, "mkdir "+name)
	return nil
}
func (s *fakeShare) Remove(name string) error {
	*s.calls = append(*s.calls, "remove "+name)
	return nil
}
func (s *fakeShare) Rename(oldname, newname string) error {
	*s.calls = append(*s.calls, "rename "+oldname+" "+newname)
	return nil
}
func (s *fakeShare) Chmod(name string, _ fs.FileMode) error      { return nil }
func (s *fakeShare) Chtimes(string, time.Time, time.Time) error { return nil }
func (s *fakeShare) Truncate(name string, _ int64) error        { return nil }

type fakeMount struct {
	share  *fakeShare
	closed bool
}

func (m *fakeMount) Share() Share { return m.share }
func (m *fakeMount) Close() error {
	m.closed = true
	return nil
}

type fakeConnector struct {
	mu       sync.Mutex
	calls    []string
	mounts   []*fakeMount
	addrs    []string
	creds    []config.Credentials
	shares   []string
	statErr  error
	mountErr error
	// deadMounts is how many of the first mounts come up already dead.
	deadMounts int
}

func (c *fakeConnector) Mount(_ context.Context, addr, share string, creds config.Credentials) (Mount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mountErr != nil {
		return nil, c.mountErr
	}
	c.addrs = append(c.addrs, addr)
	c.creds = append(c.creds, creds)
	m := &fakeMount{share: &fakeShare{calls: &c.calls, statErr: c.statErr, dead: len(c.mounts) < c.deadMounts}}
	c.mounts = append(c.mounts, m)
	return m, nil
}

func (c *fakeConnector) ListShares(_ context.Context, addr string, creds config.Credentials) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrs = append(c.addrs, addr)
	c.creds = append(c.creds, creds)
	return c.shares, nil
}

type fakeResolver map[string]net.IP

func (r fakeResolver) LookupHost(_ context.Context, host string) (net.IP, error) {
	if ip, ok := r[host]; ok {
		return ip, nil
	}
	return nil, errors.New("not found")
}

func TestSplitRemote(t *testing.T) {
	tests := []struct {
		remote, server, share, rest string
		wantErr                     bool
	}{
		{"/ALPHA/Docs/a/b.txt", "ALPHA", "Docs", "a/b.txt", false},
		{"/ALPHA/Docs", "ALPHA", "Docs", "", false},
		{"/ALPHA/Docs/", "ALPHA", "Docs", "", false},
		{"/ALPHA", "", "", "", true},
		{"/", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			server, share, rest, err := SplitRemote(tt.remote)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.server, server)
			assert.Equal(t, tt.share, share)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestToSMBPath(t *testing.T) {
	assert.Equal(t, `a\b.txt`, toSMBPath("a/b.txt"))
	assert.Equal(t, ``, toSMBPath(""))
	assert.Equal(t, `dir`, toSMBPath("/dir/"))
}

func TestListSharesAddressSelection(t *testing.T) {
	conn := &fakeConnector{shares: []string{"Docs"}}
	creds := fakeCreds{"ALPHA/": {Username: "alice"}}
	p := NewPool(conn, creds, WithResolver(fakeResolver{"BETA": net.IPv4(10, 0, 0, 2)}))

	ctx := context.Background()
	_, err := p.ListShares(ctx, "ALPHA", net.IPv4(10, 0, 0, 1))
	require.NoError(t, err)
	_, err = p.ListShares(ctx, "BETA", nil)
	require.NoError(t, err)
	_, err = p.ListShares(ctx, "GAMMA", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "GAMMA"}, conn.addrs)
	assert.Equal(t, "alice", conn.creds[0].Username)
	assert.True(t, conn.creds[1].IsAnonymous())
}

func TestPoolReusesMounts(t *testing.T) {
	conn := &fakeConnector{}
	creds := fakeCreds{"ALPHA/Docs": {Username: "bob"}}
	p := NewPool(conn, creds)
	ctx := context.Background()

	_, err := p.Stat(ctx, "/ALPHA/Docs/a/b.txt")
	require.NoError(t, err)
	_, err = p.ReadDir(ctx, "/alpha/docs/a")
	require.NoError(t, err)
	require.NoError(t, p.Mkdir(ctx, "/ALPHA/Docs/new", 0755))

	assert.Len(t, conn.mounts, 1, "same share must reuse the mount")
	assert.Equal(t, "bob", conn.creds[0].Username)
	assert.Equal(t, []string{`stat a\b.txt`, `readdir a`, `mkdir new`}, conn.calls)
	assert.Equal(t, 1, p.Len())
}

func TestPoolDropsStaleMount(t *testing.T) {
	conn := &fakeConnector{statErr: &smb2.ResponseError{Code: statusNetworkNameDeleted}}
	p := NewPool(conn, fakeCreds{})
	ctx := context.Background()

	_, err := p.Stat(ctx, "/ALPHA/Docs/x")
	require.Error(t, err)
	assert.Zero(t, p.Len())
	require.Len(t, conn.mounts, 2, "one reconnect per call")
	assert.True(t, conn.mounts[0].closed)
	assert.True(t, conn.mounts[1].closed)

	_, _ = p.Stat(ctx, "/ALPHA/Docs/x")
	assert.Len(t, conn.mounts, 4)
}

func TestPoolReconnectsAfterSessionLoss(t *testing.T) {
	conn := &fakeConnector{deadMounts: 1}
	p := NewPool(conn, fakeCreds{})
	ctx := context.Background()

	_, err := p.Stat(ctx, "/ALPHA/Docs/x")
	require.NoError(t, err)
	require.Len(t, conn.mounts, 2)
	assert.True(t, conn.mounts[0].closed)
	assert.Equal(t, 1, p.Len())
}

func TestPoolOpenFileReconnectsAfterSessionLoss(t *testing.T) {
	conn := &fakeConnector{}
	p := NewPool(conn, fakeCreds{})
	ctx := context.Background()

	_, err := p.Stat(ctx, "/ALPHA/Docs/x")
	require.NoError(t, err)
	conn.mounts[0].share.dead = true

	f, err := p.OpenFile(ctx, "/ALPHA/Docs/x", 0, 0)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, conn.mounts, 2)
	assert.True(t, conn.mounts[0].closed)
	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
}

func TestPoolKeepsMountOnOrdinaryError(t *testing.T) {
	conn := &fakeConnector{statErr: &smb2.ResponseError{Code: statusObjectNameNotFound}}
	p := NewPool(conn, fakeCreds{})

	_, err := p.Stat(context.Background(), "/ALPHA/Docs/x")
	assert.Equal(t, syscall.ENOENT, Errno(err))
	assert.Equal(t, 1, p.Len())
}

func TestPoolRenameAcrossShares(t *testing.T) {
	conn := &fakeConnector{}
	p := NewPool(conn, fakeCreds{})
	ctx := context.Background()

	err := p.Rename(ctx, "/ALPHA/Docs/a", "/ALPHA/Other/a")
	assert.Equal(t, syscall.EXDEV, Errno(err))

	require.NoError(t, p.Rename(ctx, "/ALPHA/Docs/a", "/ALPHA/Docs/sub/b"))
	assert.Equal(t, []string{`rename a sub\b`}, conn.calls)
}

func TestPoolMountError(t *testing.T) {
	conn := &fakeConnector{mountErr: &smb2.ResponseError{Code: statusLogonFailure}}
	p := NewPool(conn, fakeCreds{})

	_, err := p.Stat(context.Background(), "/ALPHA/Docs/x")
	assert.Equal(t, syscall.EACCES, Errno(err))
	assert.Zero(t, p.Len())
}

func TestPoolPurge(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{}
	p := NewPool(conn, fakeCreds{}, WithIdleTimeout(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _ = p.Stat(ctx, "/ALPHA/Docs/x")
	now = now.Add(30 * time.Second)
	_, _ = p.Stat(ctx, "/BETA/Pub/x")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, p.Purge())
	assert.Equal(t, 1, p.Len())
	assert.True(t, conn.mounts[0].closed)
	assert.False(t, conn.mounts[1].closed)
}

func TestPoolPurgeKeepsMountsWithOpenFiles(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{}
	p := NewPool(conn, fakeCreds{}, WithIdleTimeout(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	f, err := p.OpenFile(ctx, "/ALPHA/Docs/x", 0, 0)
	require.NoError(t, err)

	buf := make([]byte, 4)
	for i := 0; i < 10; i++ {
		now = now.Add(30 * time.Second)
		_, err := f.ReadAt(buf, 0)
		require.NoError(t, err)
		assert.Zero(t, p.Purge(), "purged after %d reads", i+1)
	}

	// an open but untouched file still pins its mount
	now = now.Add(time.Hour)
	assert.Zero(t, p.Purge())
	assert.False(t, conn.mounts[0].closed)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, p.Purge())
	assert.True(t, conn.mounts[0].closed)
}

func TestPoolSetTimeout(t *testing.T) {
	p := NewPool(&fakeConnector{}, fakeCreds{})
	p.SetTimeout(3 * time.Second)
	assert.Equal(t, 3*time.Second, p.Timeout())
}

func TestPoolClose(t *testing.T) {
	conn := &fakeConnector{}
	p := NewPool(conn, fakeCreds{})
	_, _ = p.Stat(context.Background(), "/ALPHA/Docs/x")
	require.NoError(t, p.Close())
	assert.Zero(t, p.Len())
	assert.True(t, conn.mounts[0].closed)
}
