package fs

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"smbhood/internal/handle"
	"smbhood/internal/logging"
	"smbhood/internal/metrics"
	"smbhood/internal/topology"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// kindXattr names the folder kind of topology directories.
const kindXattr = "user.smbhood.kind"

// Dir represents a directory: the root, a workgroup, a server, a share, or
// a folder inside a share.
type Dir struct {
	fs   *SMBFS
	path topology.Path
}

// inTopology reports whether p is answered from the topology cache.
func inTopology(p topology.Path) bool {
	return p.Tier() <= topology.TierShare
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)

	if inTopology(d.path) {
		attr, err := d.fs.topo.Exists(d.path)
		if err != nil {
			return fail(OpGetattr, d.path.String(), err)
		}
		fillTopologyAttr(a, attr)
		return nil
	}

	info, err := d.fs.remote.Stat(ctx, d.path.Remote())
	if err != nil {
		return fail(OpGetattr, d.path.String(), err)
	}
	fillRemoteAttr(a, info, d.fs.uid, d.fs.gid)
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
// Leaf lookups that failed recently are answered from the negative cache.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path)
	childPath := d.path.Join(name)

	if inTopology(childPath) {
		if _, err := d.fs.topo.Exists(childPath); err != nil {
			return nil, fail(OpLookup, childPath.String(), err)
		}
		return &Dir{fs: d.fs, path: childPath}, nil
	}

	key := childPath.String()
	if childPath.IsLeaf() {
		if errno, ok := d.fs.negative.ShouldShortCircuit(key); ok {
			metrics.RecordNegativeCacheHit()
			dirLogger.Trace("Negative cache hit for %q", key)
			return nil, errno
		}
	}

	info, err := d.fs.remote.Stat(ctx, childPath.Remote())
	if err != nil {
		ferr := fail(OpLookup, key, err)
		if errno, ok := ferr.(syscall.Errno); ok && errno == syscall.ENOENT && childPath.IsLeaf() {
			d.fs.negative.Record(key, errno)
		}
		return nil, ferr
	}

	if info.IsDir() {
		return &Dir{fs: d.fs, path: childPath}, nil
	}
	return &File{fs: d.fs, path: childPath}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)

	if d.path.Tier() <= topology.TierServer {
		names, err := d.fs.topo.List(d.path)
		if err != nil {
			return nil, fail(OpReadDir, d.path.String(), err)
		}
		entries := make([]fuse.Dirent, 0, len(names))
		for _, name := range names {
			entries = append(entries, fuse.Dirent{Name: name, Type: fuse.DT_Dir})
		}
		return entries, nil
	}

	infos, err := d.fs.remote.ReadDir(ctx, d.path.Remote())
	if err != nil {
		return nil, fail(OpReadDir, d.path.String(), err)
	}

	entries := make([]fuse.Dirent, 0, len(infos)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		typ := fuse.DT_File
		if info.IsDir() {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: name, Type: typ})
		d.fs.negative.Invalidate(d.path.Join(name).String())
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a remote directory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	newPath := d.path.Join(req.Name)
	if inTopology(newPath) {
		dirLogger.Debug("Refusing mkdir of %q", newPath)
		return nil, syscall.EACCES
	}

	dirLogger.Info("Creating directory %q", newPath)
	if err := d.fs.remote.Mkdir(ctx, newPath.Remote(), req.Mode.Perm()); err != nil {
		return nil, fail(OpMkdir, newPath.String(), err)
	}
	d.fs.negative.Invalidate(newPath.String())
	return &Dir{fs: d.fs, path: newPath}, nil
}

// Create implements the NodeCreater interface, creating and opening a
// remote file.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	newPath := d.path.Join(req.Name)
	if inTopology(newPath) {
		dirLogger.Debug("Refusing create of %q", newPath)
		return nil, nil, syscall.EACCES
	}

	flags := int(req.Flags) | os.O_CREATE
	dirLogger.Info("Creating file %q", newPath)
	h, err := handle.Open(ctx, d.fs.remote, newPath.Remote(), flags, req.Mode.Perm(), d.fs.policy)
	if err != nil {
		return nil, nil, fail(OpCreate, newPath.String(), err)
	}
	d.fs.negative.Invalidate(newPath.String())

	resp.Flags |= fuse.OpenDirectIO
	return &File{fs: d.fs, path: newPath}, newFileHandle(h, newPath, flags), nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := d.path.Join(req.Name)
	if inTopology(childPath) {
		dirLogger.Debug("Refusing removal of %q", childPath)
		return syscall.EACCES
	}

	dirLogger.Info("Removing %q (isDir=%v)", childPath, req.Dir)
	if err := d.fs.remote.Remove(ctx, childPath.Remote()); err != nil {
		return fail(OpRemove, childPath.String(), err)
	}
	return nil
}

// Rename implements the NodeRenamer interface. Both names must lie inside
// the same share.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return syscall.EINVAL
	}

	oldPath := d.path.Join(req.OldName)
	newPath := target.path.Join(req.NewName)
	if inTopology(oldPath) || inTopology(newPath) {
		dirLogger.Debug("Refusing rename %q -> %q", oldPath, newPath)
		return syscall.EACCES
	}

	dirLogger.Info("Renaming %q to %q", oldPath, newPath)
	if err := d.fs.remote.Rename(ctx, oldPath.Remote(), newPath.Remote()); err != nil {
		return fail(OpRename, oldPath.String(), err)
	}
	d.fs.negative.Invalidate(newPath.String())
	return nil
}

// Setattr implements the NodeSetattrer interface.
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if inTopology(d.path) {
		if err := refuseTopologySetattr(req); err != nil {
			return err
		}
		return d.Attr(ctx, &resp.Attr)
	}
	return setattr(ctx, d.fs, d.path, req, &resp.Attr)
}

// Getxattr implements the NodeGetxattrer interface. Topology directories
// carry their kind.
func (d *Dir) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	kind, ok := folderKind(d.path)
	if !ok || req.Name != kindXattr {
		return fuse.ErrNoXattr
	}
	resp.Xattr = []byte(kind)
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (d *Dir) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	if _, ok := folderKind(d.path); ok {
		resp.Append(kindXattr)
	}
	return nil
}

// Setxattr implements the NodeSetxattrer interface.
func (d *Dir) Setxattr(_ context.Context, _ *fuse.SetxattrRequest) error {
	return syscall.EACCES
}

// Removexattr implements the NodeRemovexattrer interface.
func (d *Dir) Removexattr(_ context.Context, _ *fuse.RemovexattrRequest) error {
	return syscall.EACCES
}

func folderKind(p topology.Path) (string, bool) {
	switch p.Tier() {
	case topology.TierWorkgroup:
		return "workgroup", true
	case topology.TierServer:
		return "server", true
	case topology.TierShare:
		return "share", true
	}
	return "", false
}
