// Package smbnet talks to SMB servers: it lists shares, keeps a pool of
// mounted shares and performs file operations on remote paths of the form
// /SERVER/SHARE/rest.
package smbnet

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"smbhood/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("smbnet")
)

const (
	// DefaultIdleTimeout is how long an unused mount is kept.
	DefaultIdleTimeout = 5 * time.Minute
	defaultOpTimeout   = 10 * time.Second
)

type mountEntry struct {
	server   string
	share    string
	mount    Mount
	lastUsed time.Time
	// open counts files handed out on this mount that are not closed yet.
	// Purge leaves such mounts alone.
	open int
}

// Pool caches one mount per server/share pair.
type Pool struct {
	connector Connector
	creds     CredentialSource
	resolver  HostResolver
	idle      time.Duration
	now       func() time.Time
	timeout   atomic.Int64

	mu     sync.Mutex
	mounts map[string]*mountEntry
}

// Option configures a Pool.
type Option func(*Pool)

// WithResolver resolves server names that have no address hint.
func WithResolver(r HostResolver) Option {
	return func(p *Pool) { p.resolver = r }
}

// WithIdleTimeout sets how long Purge keeps unused mounts.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idle = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool creates an empty pool.
func NewPool(connector Connector, creds CredentialSource, opts ...Option) *Pool {
	p := &Pool{
		connector: connector,
		creds:     creds,
		idle:      DefaultIdleTimeout,
		now:       time.Now,
		mounts:    make(map[string]*mountEntry),
	}
	p.timeout.Store(int64(defaultOpTimeout))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetTimeout changes the per-operation timeout.
func (p *Pool) SetTimeout(d time.Duration) {
	if old := time.Duration(p.timeout.Swap(int64(d))); old != d {
		logger.Debug("Operation timeout changed from %v to %v", old, d)
	}
}

// Timeout returns the per-operation timeout.
func (p *Pool) Timeout() time.Duration {
	return time.Duration(p.timeout.Load())
}

func (p *Pool) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.Timeout())
}

// address picks the dial address: the hint, then a name lookup, then the
// name itself for DNS.
func (p *Pool) address(ctx context.Context, server string, hint net.IP) string {
	if hint != nil {
		return hint.String()
	}
	if p.resolver != nil {
		ip, err := p.resolver.LookupHost(ctx, server)
		if err == nil {
			return ip.String()
		}
		logger.Trace("Name lookup of %s failed, falling back to DNS: %v", server, err)
	}
	return server
}

// ListShares returns the share names of server, connecting to hint when set.
func (p *Pool) ListShares(ctx context.Context, server string, hint net.IP) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	addr := p.address(ctx, server, hint)
	logger.Debug("Listing shares of %s at %s", server, addr)
	return p.connector.ListShares(ctx, addr, p.creds.Credentials(server, ""))
}

// SplitRemote splits /SERVER/SHARE/rest into its parts. rest is empty for
// the share root.
func SplitRemote(remote string) (server, share, rest string, err error) {
	parts := strings.SplitN(strings.TrimPrefix(remote, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid remote path %q: %w", remote, fs.ErrInvalid)
	}
	if len(parts) == 3 {
		rest = parts[2]
	}
	return parts[0], parts[1], rest, nil
}

// toSMBPath converts a share relative slash path to SMB form.
func toSMBPath(rest string) string {
	return strings.ReplaceAll(strings.Trim(rest, "/"), "/", `\`)
}

func mountKey(server, share string) string {
	return strings.ToLower(server) + "/" + strings.ToLower(share)
}

// get returns the mount for server/share, connecting when needed.
func (p *Pool) get(ctx context.Context, server, share string) (*mountEntry, error) {
	key := mountKey(server, share)

	p.mu.Lock()
	if e, ok := p.mounts[key]; ok {
		e.lastUsed = p.now()
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	creds := p.creds.Credentials(server, share)
	dialCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	m, err := p.connector.Mount(dialCtx, p.address(dialCtx, server, nil), share, creds)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.mounts[key]; ok {
		// another caller won the race
		m.Close()
		e.lastUsed = p.now()
		return e, nil
	}
	e := &mountEntry{server: server, share: share, mount: m, lastUsed: p.now()}
	p.mounts[key] = e
	logger.Debug("Mounted //%s/%s", server, share)
	return e, nil
}

// drop closes the mount for server/share if it is still e.
func (p *Pool) drop(e *mountEntry) {
	key := mountKey(e.server, e.share)
	p.mu.Lock()
	if cur, ok := p.mounts[key]; ok && cur == e {
		delete(p.mounts, key)
	} else {
		e = nil
	}
	p.mu.Unlock()

	if e != nil {
		logger.Debug("Dropping stale mount //%s/%s", e.server, e.share)
		e.mount.Close()
	}
}

// touch marks e as used now.
func (p *Pool) touch(e *mountEntry) {
	p.mu.Lock()
	e.lastUsed = p.now()
	p.mu.Unlock()
}

// withMount runs op on the mount for server/share. When op fails because
// the session or tree connect is gone, the mount is dropped and op runs
// once more on a fresh one.
func (p *Pool) withMount(ctx context.Context, server, share string, op func(e *mountEntry) error) error {
	for attempt := 1; ; attempt++ {
		e, err := p.get(ctx, server, share)
		if err != nil {
			return err
		}
		err = op(e)
		if !IsStale(err) {
			return err
		}
		p.drop(e)
		if attempt == 2 {
			return err
		}
		logger.Debug("Mount //%s/%s went stale, reconnecting: %v", server, share, err)
	}
}

// do runs op against the share holding remote, bounded by the operation
// timeout.
func (p *Pool) do(ctx context.Context, remote string, op func(sh Share, name string) error) error {
	server, share, rest, err := SplitRemote(remote)
	if err != nil {
		return err
	}
	return p.withMount(ctx, server, share, func(e *mountEntry) error {
		opCtx, cancel := p.withTimeout(ctx)
		defer cancel()
		return op(e.mount.Share().WithContext(opCtx), toSMBPath(rest))
	})
}

// Stat returns the metadata of a remote path.
func (p *Pool) Stat(ctx context.Context, remote string) (fs.FileInfo, error) {
	var info fs.FileInfo
	err := p.do(ctx, remote, func(sh Share, name string) error {
		var err error
		info, err = sh.Stat(name)
		return err
	})
	return info, err
}

// ReadDir lists a remote directory.
func (p *Pool) ReadDir(ctx context.Context, remote string) ([]fs.FileInfo, error) {
	var infos []fs.FileInfo
	err := p.do(ctx, remote, func(sh Share, name string) error {
		var err error
		infos, err = sh.ReadDir(name)
		return err
	})
	return infos, err
}

// OpenFile opens a remote file. The returned file outlives ctx and keeps
// its mount from being purged until it is closed.
func (p *Pool) OpenFile(ctx context.Context, remote string, flag int, perm fs.FileMode) (File, error) {
	server, share, rest, err := SplitRemote(remote)
	if err != nil {
		return nil, err
	}
	var f File
	err = p.withMount(ctx, server, share, func(e *mountEntry) error {
		sf, err := e.mount.Share().OpenFile(toSMBPath(rest), flag, perm)
		if err != nil {
			return err
		}
		p.mu.Lock()
		e.open++
		e.lastUsed = p.now()
		p.mu.Unlock()
		f = &pooledFile{File: sf, pool: p, entry: e}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// pooledFile ties an open file to its mount.
type pooledFile struct {
	File
	pool   *Pool
	entry  *mountEntry
	closed sync.Once
}

func (f *pooledFile) ReadAt(b []byte, off int64) (int, error) {
	f.pool.touch(f.entry)
	return f.File.ReadAt(b, off)
}

func (f *pooledFile) WriteAt(b []byte, off int64) (int, error) {
	f.pool.touch(f.entry)
	return f.File.WriteAt(b, off)
}

func (f *pooledFile) Close() error {
	f.closed.Do(func() {
		f.pool.mu.Lock()
		f.entry.open--
		f.entry.lastUsed = f.pool.now()
		f.pool.mu.Unlock()
	})
	return f.File.Close()
}

func (p *Pool) Mkdir(ctx context.Context, remote string, perm fs.FileMode) error {
	return p.do(ctx, remote, func(sh Share, name string) error {
		return sh.Mkdir(name, perm)
	})
}

func (p *Pool) Remove(ctx context.Context, remote string) error {
	return p.do(ctx, remote, func(sh Share, name string) error {
		return sh.Remove(name)
	})
}

// Rename moves oldRemote to newRemote. Both must be on the same share.
func (p *Pool) Rename(ctx context.Context, oldRemote, newRemote string) error {
	oldServer, oldShare, _, err := SplitRemote(oldRemote)
	if err != nil {
		return err
	}
	newServer, newShare, newRest, err := SplitRemote(newRemote)
	if err != nil {
		return err
	}
	if mountKey(oldServer, oldShare) != mountKey(newServer, newShare) {
		return fmt.Errorf("%s -> %s: %w", oldRemote, newRemote, ErrCrossShare)
	}
	return p.do(ctx, oldRemote, func(sh Share, name string) error {
		return sh.Rename(name, toSMBPath(newRest))
	})
}

func (p *Pool) Chmod(ctx context.Context, remote string, mode fs.FileMode) error {
	return p.do(ctx, remote, func(sh Share, name string) error {
		return sh.Chmod(name, mode)
	})
}

func (p *Pool) Chtimes(ctx context.Context, remote string, atime, mtime time.Time) error {
	return p.do(ctx, remote, func(sh Share, name string) error {
		return sh.Chtimes(name, atime, mtime)
	})
}

func (p *Pool) Truncate(ctx context.Context, remote string, size int64) error {
	return p.do(ctx, remote, func(sh Share, name string) error {
		return sh.Truncate(name, size)
	})
}

// Purge closes mounts without open files that were unused for longer than
// the idle timeout and returns how many were closed.
func (p *Pool) Purge() int {
	now := p.now()
	var idle []*mountEntry

	p.mu.Lock()
	for key, e := range p.mounts {
		if e.open == 0 && now.Sub(e.lastUsed) > p.idle {
			idle = append(idle, e)
			delete(p.mounts, key)
		}
	}
	p.mu.Unlock()

	for _, e := range idle {
		if err := e.mount.Close(); err != nil {
			logger.Debug("Closing idle mount //%s/%s: %v", e.server, e.share, err)
		}
	}
	if len(idle) > 0 {
		logger.Debug("Purged %d idle mounts", len(idle))
	}
	return len(idle)
}

// Len is the number of open mounts.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mounts)
}

// Close closes every mount.
func (p *Pool) Close() error {
	p.mu.Lock()
	mounts := p.mounts
	p.mounts = make(map[string]*mountEntry)
	p.mu.Unlock()

	for _, e := range mounts {
		e.mount.Close()
	}
	return nil
}
