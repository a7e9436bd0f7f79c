package fs

import (
	"context"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"smbhood/internal/handle"
	"smbhood/internal/logging"
	"smbhood/internal/topology"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File represents a file inside a share.
type File struct {
	fs   *SMBFS
	path topology.Path
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path)

	info, err := f.fs.remote.Stat(ctx, f.path.Remote())
	if err != nil {
		return fail(OpGetattr, f.path.String(), err)
	}
	fillRemoteAttr(a, info, f.fs.uid, f.fs.gid)
	return nil
}

// Open implements the NodeOpener interface, opening the remote file.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening file %q with flags %v", f.path, req.Flags)

	h, err := handle.Open(ctx, f.fs.remote, f.path.Remote(), flags, 0, f.fs.policy)
	if err != nil {
		return nil, fail(OpOpen, f.path.String(), err)
	}

	// Enable direct IO so reads always reach the server
	resp.Flags |= fuse.OpenDirectIO
	return newFileHandle(h, f.path, flags), nil
}

// Fsync implements the NodeFsyncer interface. Writes are sent to the server
// as they happen and flushed on close.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// Setattr implements the NodeSetattrer interface.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(ctx, f.fs, f.path, req, &resp.Attr)
}

// refuseTopologySetattr rejects attribute changes on topology directories.
// Ownership changes are accepted and ignored.
func refuseTopologySetattr(req *fuse.SetattrRequest) error {
	switch {
	case req.Valid.Mode():
		return syscall.EPERM
	case req.Valid.Size(), req.Valid.Atime(), req.Valid.Mtime(), req.Valid.AtimeNow(), req.Valid.MtimeNow():
		return syscall.EACCES
	}
	return nil
}

// setattr applies mode, size and time changes to a remote path and reports
// the resulting attributes. The server has no notion of uid and gid, so
// ownership changes succeed without effect.
func setattr(ctx context.Context, s *SMBFS, p topology.Path, req *fuse.SetattrRequest, a *fuse.Attr) error {
	remote := p.Remote()

	if req.Valid.Mode() {
		if err := s.remote.Chmod(ctx, remote, req.Mode); err != nil {
			return fail(OpSetattr, p.String(), err)
		}
	}

	if req.Valid.Size() {
		fileLogger.Debug("Truncating %q to %d", p, req.Size)
		if err := s.remote.Truncate(ctx, remote, int64(req.Size)); err != nil {
			return fail(OpTruncate, p.String(), err)
		}
	}

	if req.Valid.Atime() || req.Valid.Mtime() || req.Valid.AtimeNow() || req.Valid.MtimeNow() {
		info, err := s.remote.Stat(ctx, remote)
		if err != nil {
			return fail(OpSetattr, p.String(), err)
		}
		now := time.Now()
		atime, mtime := info.ModTime(), info.ModTime()
		switch {
		case req.Valid.AtimeNow():
			atime = now
		case req.Valid.Atime():
			atime = req.Atime
		}
		switch {
		case req.Valid.MtimeNow():
			mtime = now
		case req.Valid.Mtime():
			mtime = req.Mtime
		}
		if err := s.remote.Chtimes(ctx, remote, atime, mtime); err != nil {
			return fail(OpSetattr, p.String(), err)
		}
	}

	info, err := s.remote.Stat(ctx, remote)
	if err != nil {
		return fail(OpGetattr, p.String(), err)
	}
	fillRemoteAttr(a, info, s.uid, s.gid)
	return nil
}

// FileHandle is an open remote file. Reads and writes recover from stale
// server handles.
type FileHandle struct {
	h        *handle.Handle
	path     string // For logging purposes
	writable bool
}

func newFileHandle(h *handle.Handle, p topology.Path, flags int) *FileHandle {
	return &FileHandle{
		h:        h,
		path:     p.String(),
		writable: flags&(os.O_WRONLY|os.O_RDWR) != 0,
	}
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.path, req.Offset)

	buf := make([]byte, req.Size)
	n, err := fh.h.ReadAt(ctx, buf, req.Offset)
	if err != nil {
		return fail(OpRead, fh.path, err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), fh.path, req.Offset)

	n, err := fh.h.WriteAt(ctx, req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		return fail(OpWrite, fh.path, err)
	}
	return nil
}

// Flush implements the HandleFlusher interface.
func (fh *FileHandle) Flush(ctx context.Context, _ *fuse.FlushRequest) error {
	if !fh.writable {
		return nil
	}
	if err := fh.h.Sync(ctx); err != nil {
		return fail(OpFlush, fh.path, err)
	}
	return nil
}

// Release implements the HandleReleaser interface, closing the file handle.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing file %q", fh.path)
	return fh.h.Close()
}
