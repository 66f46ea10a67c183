// Package maildir implements the walker and atomic mutation primitives
// spec.md §4.C describes, grounded on original_source/maildir.c and
// adapted to the file-descriptor-free idioms emersion-go-maildir and
// creativeprojects-go-maildir use (plain os.Rename/os.OpenFile instead
// of raw renameat/openat syscalls).
package maildir

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/geoffreyhinton/mdsort/internal/message"
)

// Subdir identifies which of a Maildir's two live subdirectories is
// active on a handle.
type Subdir int

const (
	New Subdir = iota
	Cur
)

func (s Subdir) String() string {
	switch s {
	case New:
		return "new"
	case Cur:
		return "cur"
	default:
		return ""
	}
}

func parseSubdir(name string) (Subdir, bool) {
	switch name {
	case "new":
		return New, true
	case "cur":
		return Cur, true
	default:
		return 0, false
	}
}

// ErrSubdirNotFound is returned by Open when walking is disabled and
// the supplied path's final component is neither "new" nor "cur".
var ErrSubdirNotFound = errors.New("maildir: subdir not found")

// Maildir is a handle on one root directory, tracking which subdir is
// currently active for reads and writes, per spec.md §3's "Maildir
// handle" data model entry.
type Maildir struct {
	Root string
	Sub  Subdir
	Walk bool
}

// Open opens a Maildir handle. When walk is true, root is the Maildir
// root and iteration starts at new/. When walk is false, root must
// itself end in "new" or "cur" and that becomes the (only) active
// subdir, mirroring maildir_open's parsesubdir fallback.
func Open(root string, walk bool) (*Maildir, error) {
	if walk {
		return &Maildir{Root: root, Sub: New, Walk: true}, nil
	}
	clean := filepath.Clean(root)
	sub, ok := parseSubdir(filepath.Base(clean))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubdirNotFound, root)
	}
	return &Maildir{Root: filepath.Dir(clean), Sub: sub, Walk: false}, nil
}

// Dir returns the currently active subdirectory's full path.
func (m *Maildir) Dir() string {
	return filepath.Join(m.Root, m.Sub.String())
}

// next advances new -> cur, reporting whether there was a next subdir
// to move to, matching maildir_next.
func (m *Maildir) next() bool {
	if m.Sub == New {
		m.Sub = Cur
		return true
	}
	return false
}

// Entries is one regular file discovered while walking.
type Entries struct {
	Path   string
	Subdir Subdir
}

// Walk iterates new/ then cur/ (or just the handle's single subdir
// when Walk is false), invoking fn once per regular file. It dedupes
// by inode within the call so a message moved from new/ to cur/
// mid-walk is not revisited, per spec.md §9's open question.
func (m *Maildir) Walk(fn func(Entries) error) error {
	seen := make(map[uint64]struct{})
	for {
		dir := m.Dir()
		ents, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("maildir: opendir %s: %w", dir, err)
		}
		for _, e := range ents {
			if !e.Type().IsRegular() {
				continue
			}
			full := filepath.Join(dir, e.Name())
			if ino, ok := inode(full); ok {
				if _, dup := seen[ino]; dup {
					continue
				}
				seen[ino] = struct{}{}
			}
			if err := fn(Entries{Path: full, Subdir: m.Sub}); err != nil {
				return err
			}
		}
		if !m.Walk || !m.next() {
			return nil
		}
	}
}

// counter is process-global, seeded once with a random byte per
// spec.md §6 ("Counter is seeded with a random byte at process
// start"); uniqueness is still carried by O_CREAT|O_EXCL retry.
var counter uint32

func init() {
	counter = uint32(rand.New(rand.NewSource(time.Now().UnixNano())).Intn(256))
}

// genname synthesizes a candidate destination basename and attempts
// to reserve it with O_CREAT|O_EXCL, retrying with an incremented
// counter on collision, per maildir_genname.
func genname(dir, hostname string, flags message.Flags) (name string, f *os.File, err error) {
	for {
		n := atomic.AddUint32(&counter, 1)
		ts := time.Now().Unix()
		suffix := flags.String()
		candidate := fmt.Sprintf("%d.%d_%d.%s", ts, os.Getpid(), n, hostname)
		if suffix != "" {
			candidate += ":2," + suffix
		} else {
			candidate += ":2,"
		}
		full := filepath.Join(dir, candidate)
		file, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return candidate, file, nil
		}
		if !os.IsExist(err) {
			return "", nil, err
		}
	}
}

// Move relocates msg from its current location into dst's active
// subdir, flipping the S flag on new<->cur subdir transitions,
// preserving mtime, and enforcing filename uniqueness via retry, per
// spec.md §4.C/§6. On success it returns the new absolute path and
// mutates msg's flags to match the emitted filename.
func Move(src, dst *Maildir, msg *message.Message, hostname string) (string, error) {
	if src.Sub == New && dst.Sub == Cur {
		msg.SetFlag('S')
	} else if src.Sub == Cur && dst.Sub == New {
		msg.ClearFlag('S')
	}

	var mtime time.Time
	hasMtime := false
	if fi, err := os.Stat(msg.Path); err == nil {
		mtime = fi.ModTime()
		hasMtime = true
	}

	name, f, err := genname(dst.Dir(), hostname, msg.Flags())
	if err != nil {
		return "", fmt.Errorf("maildir: genname: %w", err)
	}
	f.Close()
	destPath := filepath.Join(dst.Dir(), name)

	// The placeholder created by genname's O_EXCL reservation is
	// replaced by the real file content via rename.
	if err := os.Rename(msg.Path, destPath); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("maildir: rename: %w", err)
	}
	if hasMtime {
		if err := os.Chtimes(destPath, mtime, mtime); err != nil {
			return "", fmt.Errorf("maildir: chtimes: %w", err)
		}
	}
	return destPath, nil
}

// Unlink removes msg's file from disk, per maildir_unlink.
func Unlink(msg *message.Message) error {
	if err := os.Remove(msg.Path); err != nil {
		return fmt.Errorf("maildir: unlink: %w", err)
	}
	return nil
}

func inode(p string) (uint64, bool) {
	fi, err := os.Stat(p)
	if err != nil {
		return 0, false
	}
	return statInode(fi)
}
