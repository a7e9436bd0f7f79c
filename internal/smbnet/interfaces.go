package smbnet

import (
	"context"
	"io"
	"io/fs"
	"net"
	"time"

	"smbhood/internal/config"
)

// Share is one mounted share (tree connect).
type Share interface {
	WithContext(ctx context.Context) Share
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.FileInfo, error)
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)
	Mkdir(name string, perm fs.FileMode) error
	Remove(name string) error
	Rename(oldname, newname string) error
	Chmod(name string, mode fs.FileMode) error
	Chtimes(name string, atime, mtime time.Time) error
	Truncate(name string, size int64) error
}

// File is an open remote file.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Stat() (fs.FileInfo, error)
	Sync() error
}

// Mount is an authenticated session with one share mounted.
type Mount interface {
	Share() Share
	Close() error
}

// Connector establishes sessions with servers.
type Connector interface {
	// Mount logs on to addr and mounts share.
	Mount(ctx context.Context, addr, share string, creds config.Credentials) (Mount, error)
	// ListShares logs on to addr and returns its share names.
	ListShares(ctx context.Context, addr string, creds config.Credentials) ([]string, error)
}

// CredentialSource resolves the login for a server or share.
type CredentialSource interface {
	Credentials(server, share string) config.Credentials
}

// HostResolver finds the address of a server by name.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) (net.IP, error)
}
