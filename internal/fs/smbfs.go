package fs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"smbhood/internal/handle"
	"smbhood/internal/logging"
	"smbhood/internal/topology"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// SMBFS exposes the network neighbourhood as a directory tree: workgroups,
// servers and shares from the topology cache, share contents from the
// servers themselves.
type SMBFS struct {
	topo       Topology
	remote     Remote
	negative   NegativeCache
	policy     handle.Policy
	allowOther bool
	conn       *fuse.Conn
	done       chan struct{}
	uid        uint32 // Owner reported for remote files
	gid        uint32
}

// Option configures an SMBFS.
type Option func(*SMBFS)

// WithPolicy sets the handle recovery policy.
func WithPolicy(p handle.Policy) Option {
	return func(s *SMBFS) { s.policy = p }
}

// WithAllowOther lets other users access the mount.
func WithAllowOther(allow bool) Option {
	return func(s *SMBFS) { s.allowOther = allow }
}

// WithOwner overrides the owner reported for remote files.
func WithOwner(uid, gid uint32) Option {
	return func(s *SMBFS) {
		s.uid = uid
		s.gid = gid
	}
}

// New creates the filesystem.
func New(topo Topology, remote Remote, negative NegativeCache, opts ...Option) *SMBFS {
	// Get UID/GID from environment if set
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	s := &SMBFS{
		topo:     topo,
		remote:   remote,
		negative: negative,
		policy:   handle.DefaultPolicy(),
		uid:      uid,
		gid:      gid,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (s *SMBFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{
		fs:   s,
		path: topology.ParsePath("/"),
	}, nil
}

// Statfs reports the local root filesystem. Asking every server would be
// too slow for tools that poll it.
func (s *SMBFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st unix.Statfs_t
	if err := unix.Statfs("/", &st); err != nil {
		return err
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = safeInt64ToUint32(int64(st.Bsize))
	resp.Frsize = safeInt64ToUint32(int64(st.Frsize))
	resp.Namelen = safeInt64ToUint32(int64(st.Namelen))
	return nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem and serves it in the background until it is
// unmounted. Done is closed when serving stops.
func (s *SMBFS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting network neighbourhood")
	vfsLogger.Debug("Mount point: %s", mountPoint)
	vfsLogger.Debug("UID: %d, GID: %d", s.uid, s.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("smbhood"),
		fuse.Subtype("smbhood"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}
	if s.allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	s.conn = c
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := fusefs.Serve(c, s); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		vfsLogger.Debug("FUSE server stopped")
	}()

	// Wait for mount to be ready
	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Done is closed once the mounted filesystem stops serving.
func (s *SMBFS) Done() <-chan struct{} {
	return s.done
}

// Unmount cleanly unmounts the filesystem.
func (s *SMBFS) Unmount(mountPoint string) error {
	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if s.conn == nil {
		return nil
	}
	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	vfsLogger.Info("Unmount completed successfully")
	return s.conn.Close()
}
