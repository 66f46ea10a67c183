// Package action executes a match list's records in order, per
// spec.md §4.H, grounded on original_source/match.c's matches_exec
// and, for the "walk an ordered sequence of per-message actions"
// shape, the filter dispatch in lmtp/server.go's processMessage.
//
// The deferred half of the interpolation pass (§4.G's list-aware
// back-reference/macro resolution for Move/Label/Exec, as opposed to
// Stat's immediate resolution inside package expr) lives here rather
// than in package interp, so that interp stays free of a dependency
// on package expr's List/Record types and no import cycle forms.
package action

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/geoffreyhinton/mdsort/internal/expr"
	"github.com/geoffreyhinton/mdsort/internal/interp"
	"github.com/geoffreyhinton/mdsort/internal/maildir"
	"github.com/geoffreyhinton/mdsort/internal/message"
	"github.com/geoffreyhinton/mdsort/internal/mlog"
)

// Syscalls seams every side-effecting primitive the executor calls,
// so tests can inject faults (a failing rename, a permission error on
// unlink) the way original_source/fault.c's FAULT environment hook
// lets the C test suite do, without actually breaking the filesystem.
type Syscalls interface {
	Open(root string, walk bool) (*maildir.Maildir, error)
	Move(src, dst *maildir.Maildir, msg *message.Message, hostname string) (string, error)
	Unlink(msg *message.Message) error
	WriteFile(path string, data []byte, perm os.FileMode) error
	TempFile(dir, pattern string) (*os.File, error)
	Run(argv []string, stdin io.Reader) error
}

// osSyscalls is the production Syscalls implementation.
type osSyscalls struct{}

func (osSyscalls) Open(root string, walk bool) (*maildir.Maildir, error) {
	return maildir.Open(root, walk)
}

func (osSyscalls) Move(src, dst *maildir.Maildir, msg *message.Message, hostname string) (string, error) {
	return maildir.Move(src, dst, msg, hostname)
}

func (osSyscalls) Unlink(msg *message.Message) error {
	return maildir.Unlink(msg)
}

func (osSyscalls) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (osSyscalls) TempFile(dir, pattern string) (*os.File, error) {
	return os.CreateTemp(dir, pattern)
}

func (osSyscalls) Run(argv []string, stdin io.Reader) error {
	if len(argv) == 0 {
		return fmt.Errorf("action: exec: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// OS is the default, real Syscalls implementation.
var OS Syscalls = osSyscalls{}

// Result summarizes what Run did with one message's match list.
type Result struct {
	// FinalPath is where the message ended up (or still is, if no
	// Move record ran).
	FinalPath string
	// Rejected is set once a Reject record executes.
	Rejected bool
	// Aborted is set if Exec reported a nonzero exit or a signal,
	// per spec.md §4.H ("execution of remaining actions aborts").
	Aborted bool
}

// Executor runs match lists against messages.
type Executor struct {
	Syscalls Syscalls
	Hostname string
	Log      mlog.Logger
	DryRun   bool
}

// New returns an Executor using the production Syscalls.
func New(hostname string, log mlog.Logger, dryRun bool) *Executor {
	return &Executor{Syscalls: OS, Hostname: hostname, Log: log, DryRun: dryRun}
}

// Run iterates list's records in order against msg, dispatching each
// action per spec.md §4.H. A non-nil error is the run-level error
// flag spec.md §4.H describes; any records already applied stay
// applied.
func (e *Executor) Run(list *expr.List, msg *message.Message) (Result, error) {
	var res Result
	res.FinalPath = msg.Path

	src, err := e.Syscalls.Open(filepath.Dir(msg.Path), false)
	if err != nil {
		return res, fmt.Errorf("action: open source: %w", err)
	}
	srcRoot := src.Root

	recs := list.Records()
	for i, rec := range recs {
		if !rec.Node.Kind().IsAction() {
			continue
		}
		caps := list.CapturesBefore(i)
		if err := e.dispatch(rec, caps, msg, &src, &srcRoot, &res); err != nil {
			return res, err
		}
		if res.Aborted {
			break
		}
	}
	return res, nil
}

func (e *Executor) dispatch(rec *expr.Record, caps []expr.Capture, msg *message.Message, src **maildir.Maildir, srcRoot *string, res *Result) error {
	switch rec.Node.Kind() {
	case kindMove, kindFlag:
		return e.doMoveOrFlag(rec, caps, msg, src, srcRoot, res)
	case kindDiscard:
		return e.doDiscard(msg, res)
	case kindLabel:
		return e.doLabel(rec, caps, msg, res)
	case kindReject:
		res.Rejected = true
		e.Log.Info("reject: %s", msg.Path)
		return nil
	case kindExec:
		return e.doExec(rec, caps, msg, res)
	default:
		return nil
	}
}

// doMoveOrFlag resolves rec's destination maildir, per spec.md §4.G:
// Move's Dest (and any Maildir a merged Flag inherited from it, per
// §4.F) may carry back-references and macros, so it is interpolated
// here against the preceding predicate's captures before the path is
// joined and opened. An unresolved back-reference or macro is a hard
// per-message error and leaves msg untouched.
func (e *Executor) doMoveOrFlag(rec *expr.Record, caps []expr.Capture, msg *message.Message, src **maildir.Maildir, srcRoot *string, res *Result) error {
	if rec.Maildir != "" {
		resolved, err := resolve(rec.Maildir, caps, msg)
		if err != nil {
			return fmt.Errorf("action: move: %w", err)
		}
		rec.Maildir = resolved
	}
	if err := expr.ResolvePath(rec); err != nil {
		return fmt.Errorf("action: move: %w", err)
	}

	dest, err := e.Syscalls.Open(rec.Path, false)
	if err != nil {
		return fmt.Errorf("action: open destination %s: %w", rec.Path, err)
	}
	if e.DryRun {
		e.Log.Info("%s -> %s", msg.Path, rec.Path)
		return nil
	}
	newPath, err := e.Syscalls.Move(*src, dest, msg, e.Hostname)
	if err != nil {
		return fmt.Errorf("action: move %s to %s: %w", msg.Path, rec.Path, err)
	}
	msg.Path = newPath
	res.FinalPath = newPath
	if rec.Maildir != *srcRoot {
		*src = dest
		*srcRoot = rec.Maildir
	}
	return nil
}

func (e *Executor) doDiscard(msg *message.Message, res *Result) error {
	if e.DryRun {
		e.Log.Info("%s -> (discard)", msg.Path)
		return nil
	}
	if err := e.Syscalls.Unlink(msg); err != nil {
		return fmt.Errorf("action: discard %s: %w", msg.Path, err)
	}
	res.FinalPath = ""
	return nil
}

func (e *Executor) doLabel(rec *expr.Record, caps []expr.Capture, msg *message.Message, res *Result) error {
	parts := make([]string, len(rec.Strings))
	for i, s := range rec.Strings {
		resolved, err := resolve(s, caps, msg)
		if err != nil {
			return fmt.Errorf("action: label: %w", err)
		}
		parts[i] = resolved
	}
	existing, _ := msg.Headers.First("X-Label")
	label := existing
	for _, p := range parts {
		if label != "" {
			label += " "
		}
		label += p
	}
	msg.Headers.Set("X-Label", label)

	if e.DryRun {
		e.Log.Info("%s: X-Label=%s", msg.Path, label)
		return nil
	}
	if err := e.Syscalls.WriteFile(msg.Path, msg.Serialize(), 0o600); err != nil {
		return fmt.Errorf("action: label: write %s: %w", msg.Path, err)
	}
	return nil
}

func (e *Executor) doExec(rec *expr.Record, caps []expr.Capture, msg *message.Message, res *Result) error {
	argv := make([]string, len(rec.Argv))
	for i, a := range rec.Argv {
		resolved, err := resolve(a, caps, msg)
		if err != nil {
			return fmt.Errorf("action: exec: %w", err)
		}
		argv[i] = resolved
	}

	execNode, _ := rec.Node.(*expr.Exec)
	stdin, cleanup, err := e.execStdin(execNode, msg)
	if err != nil {
		return fmt.Errorf("action: exec: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if e.DryRun {
		e.Log.Info("%s: exec %v", msg.Path, argv)
		return nil
	}
	if err := e.Syscalls.Run(argv, stdin); err != nil {
		e.Log.Error("exec %v: %v", argv, err)
		res.Aborted = true
		return nil
	}
	return nil
}

// execStdin materializes the stream an Exec action's child reads on
// fd 0, per spec.md §4.H: off reads /dev/null, message/body are
// written to an unlinked temp file and rewound, emulating the
// O_CLOEXEC-temp-file-then-unlink idiom without raw syscalls.
func (e *Executor) execStdin(n *expr.Exec, msg *message.Message) (io.Reader, func(), error) {
	if n == nil || n.Stdin == expr.StdinOff {
		f, err := os.Open(os.DevNull)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}

	var data []byte
	if n.Stdin == expr.StdinBody {
		decoded, err := msg.DecodedBody()
		if err != nil {
			return nil, nil, fmt.Errorf("decode body: %w", err)
		}
		data = decoded
	} else {
		data = msg.Serialize()
	}

	tmp, err := e.Syscalls.TempFile("", "mdsort-exec-*")
	if err != nil {
		return nil, nil, err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return nil, nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(name)
		return nil, nil, err
	}
	os.Remove(name)
	return tmp, func() { tmp.Close() }, nil
}

// resolve applies the interpolation sublanguage to one string using
// the nearest preceding predicate's captures and the ACTION-scoped
// macro table (currently just "path"), per spec.md §4.G.
func resolve(s string, caps []expr.Capture, msg *message.Message) (string, error) {
	resolveBackref := func(i int) (string, bool) {
		if i < 0 || i >= len(caps) {
			return "", false
		}
		return caps[i].Str, true
	}
	resolveMacro := func(name string) (string, bool) {
		if name == "path" {
			return msg.Path, true
		}
		return "", false
	}
	return interp.Substitute(s, resolveBackref, resolveMacro)
}

var (
	kindMove    = expr.KindMove
	kindFlag    = expr.KindFlag
	kindDiscard = expr.KindDiscard
	kindLabel   = expr.KindLabel
	kindReject  = expr.KindReject
	kindExec    = expr.KindExec
)
