//go:build !windows

package maildir

import (
	"io/fs"
	"syscall"
)

// statInode extracts the device+inode pair used to dedupe files
// revisited across a new/ -> cur/ transition within one walk.
func statInode(fi fs.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev)<<32 ^ uint64(st.Ino), true
}
