package resolve

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// fillFromStat copies ownership and times from the cache file's inode.
func fillFromStat(attr *DirAttr, info fs.FileInfo) {
	st, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return
	}
	attr.Uid = st.Uid
	attr.Gid = st.Gid
	attr.Atime = time.Unix(st.Atim.Unix())
	attr.Mtime = time.Unix(st.Mtim.Unix())
	attr.Ctime = time.Unix(st.Ctim.Unix())
}
