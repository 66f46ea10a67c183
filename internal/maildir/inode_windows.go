//go:build windows

package maildir

import "io/fs"

// statInode has no portable equivalent on Windows; walk-local dedup
// is skipped there, matching upstream Maildir implementations that
// only special-case Windows for the filename separator.
func statInode(fi fs.FileInfo) (uint64, bool) {
	return 0, false
}
