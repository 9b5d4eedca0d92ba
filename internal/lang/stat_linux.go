//go:build linux

package lang

import (
	"os"
	"syscall"
	"time"
)

// statTimes pulls modification, access, and change times from the inode.
func statTimes(fi os.FileInfo) (modified, accessed, created time.Time) {
	modified = fi.ModTime()
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		accessed = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		created = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
		return modified, accessed, created
	}
	return modified, modified, modified
}
