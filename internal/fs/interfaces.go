// internal/fs/interfaces.go

package fs

import (
	"context"
	iofs "io/fs"
	"syscall"
	"time"

	"bazil.org/fuse/fs"

	"smbhood/internal/resolve"
	"smbhood/internal/smbnet"
	"smbhood/internal/topology"
)

// Topology answers the workgroup, server and share tiers.
type Topology interface {
	Exists(p topology.Path) (resolve.DirAttr, error)
	List(p topology.Path) ([]string, error)
}

// Remote performs file operations on /SERVER/SHARE/... paths.
type Remote interface {
	Stat(ctx context.Context, remote string) (iofs.FileInfo, error)
	ReadDir(ctx context.Context, remote string) ([]iofs.FileInfo, error)
	OpenFile(ctx context.Context, remote string, flag int, perm iofs.FileMode) (smbnet.File, error)
	Mkdir(ctx context.Context, remote string, perm iofs.FileMode) error
	Remove(ctx context.Context, remote string) error
	Rename(ctx context.Context, oldRemote, newRemote string) error
	Chmod(ctx context.Context, remote string, mode iofs.FileMode) error
	Chtimes(ctx context.Context, remote string, atime, mtime time.Time) error
	Truncate(ctx context.Context, remote string, size int64) error
}

// NegativeCache remembers failed leaf lookups.
type NegativeCache interface {
	ShouldShortCircuit(path string) (syscall.Errno, bool)
	Record(path string, errno syscall.Errno)
	Invalidate(path string)
}

// Node represents a filesystem node (file or directory)
type Node interface {
	fs.Node
	fs.NodeSetattrer
}

// Directory represents a directory in the virtual filesystem
type Directory interface {
	Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeCreater
	fs.NodeRemover
	fs.NodeRenamer
	fs.NodeGetxattrer
	fs.NodeListxattrer
	fs.NodeSetxattrer
	fs.NodeRemovexattrer
}

// FileInterface represents a file in the virtual filesystem
type FileInterface interface {
	Node
	fs.NodeOpener
	fs.NodeFsyncer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleFlusher
	fs.HandleReleaser
}

var (
	_ fs.FS               = (*SMBFS)(nil)
	_ fs.FSStatfser       = (*SMBFS)(nil)
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
)
