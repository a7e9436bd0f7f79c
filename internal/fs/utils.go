package fs

import (
	iofs "io/fs"
	"os"

	"bazil.org/fuse"

	"smbhood/internal/resolve"
)

// execBits are cleared on remote files; servers use them for DOS attributes.
const execBits = 0111

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

func safeInt64ToUint32(n int64) uint32 {
	if n < 0 || n > int64(^uint32(0)) {
		return 0
	}
	return uint32(n)
}

// fillRemoteAttr copies remote metadata into a.
func fillRemoteAttr(a *fuse.Attr, info iofs.FileInfo, uid, gid uint32) {
	a.Mode = info.Mode() &^ execBits
	if info.IsDir() {
		// directories need search permission
		a.Mode = os.ModeDir | info.Mode().Perm() | 0755
		a.Nlink = 2
	} else {
		a.Nlink = 1
	}
	a.Size = safeInt64ToUint64(info.Size())
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime() // We don't track access time
	a.Ctime = info.ModTime() // We don't track creation time
	a.Uid = uid
	a.Gid = gid
	a.BlockSize = 4096
	a.Blocks = safeInt64ToUint64((info.Size() + 511) / 512)
}

// fillTopologyAttr copies synthesized directory metadata into a.
func fillTopologyAttr(a *fuse.Attr, attr resolve.DirAttr) {
	a.Mode = attr.Mode
	a.Nlink = attr.Nlink
	a.Size = attr.Size
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
	a.BlockSize = 4096
}
