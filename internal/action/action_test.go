package action

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/geoffreyhinton/mdsort/internal/expr"
	"github.com/geoffreyhinton/mdsort/internal/maildir"
	"github.com/geoffreyhinton/mdsort/internal/message"
	"github.com/geoffreyhinton/mdsort/internal/mlog"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return full
}

func parseMsg(t *testing.T, path, data string) *message.Message {
	t.Helper()
	m, err := message.Parse(path, []byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newExecutor() *Executor {
	return New("testhost", mlog.Nop(), false)
}

func TestRunMoveUpdatesPathAndSource(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "M1")
	dst := filepath.Join(root, "M2")
	p := writeFile(t, filepath.Join(src, "new"), "1.eml", "To: bob\n\nbody\n")
	if err := os.MkdirAll(filepath.Join(dst, "new"), 0o700); err != nil {
		t.Fatal(err)
	}
	msg := parseMsg(t, p, "To: bob\n\nbody\n")

	list := &expr.List{}
	if err := list.Append(&expr.Record{Node: &expr.Move{}, Msg: msg, Maildir: dst}); err != nil {
		t.Fatal(err)
	}

	res, err := newExecutor().Run(list, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalPath == p {
		t.Fatalf("expected path to change, still %q", res.FinalPath)
	}
	if filepath.Dir(res.FinalPath) != filepath.Join(dst, "new") {
		t.Errorf("final path = %q, want under %q", res.FinalPath, filepath.Join(dst, "new"))
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Errorf("expected source file gone, stat err = %v", err)
	}
	if _, err := os.Stat(res.FinalPath); err != nil {
		t.Errorf("expected destination file to exist: %v", err)
	}
}

func TestRunDiscardUnlinks(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", "\n\nbody\n")
	msg := parseMsg(t, p, "\n\nbody\n")

	list := &expr.List{}
	if err := list.Append(&expr.Record{Node: &expr.Discard{}, Msg: msg}); err != nil {
		t.Fatal(err)
	}

	res, err := newExecutor().Run(list, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalPath != "" {
		t.Errorf("expected empty final path after discard, got %q", res.FinalPath)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat err = %v", err)
	}
}

func TestRunLabelAppendsCapturedBackref(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", "From: alice@example.com\n\nbody\n")
	msg := parseMsg(t, p, "From: alice@example.com\n\nbody\n")

	header := &expr.Header{Keys: []string{"From"}}
	list := &expr.List{}
	if err := list.Append(&expr.Record{
		Node: header,
		Msg:  msg,
		Captures: []expr.Capture{
			{Str: "alice@example.com"},
			{Str: "alice"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := list.Append(&expr.Record{Node: &expr.Label{}, Msg: msg, Strings: []string{`\1`}}); err != nil {
		t.Fatal(err)
	}

	if _, err := newExecutor().Run(list, msg); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	reparsed := parseMsg(t, p, string(data))
	label, ok := reparsed.Headers.First("X-Label")
	if !ok || label != "alice" {
		t.Errorf("X-Label = %q, ok=%v", label, ok)
	}
}

func TestRunRejectContinuesToLaterActions(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", "\n\nbody\n")
	msg := parseMsg(t, p, "\n\nbody\n")

	list := &expr.List{}
	if err := list.Append(&expr.Record{Node: &expr.Reject{}, Msg: msg}); err != nil {
		t.Fatal(err)
	}
	if err := list.Append(&expr.Record{Node: &expr.Label{}, Msg: msg, Strings: []string{"spam"}}); err != nil {
		t.Fatal(err)
	}

	res, err := newExecutor().Run(list, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rejected {
		t.Error("expected Rejected to be set")
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	reparsed := parseMsg(t, p, string(data))
	if label, _ := reparsed.Headers.First("X-Label"); label != "spam" {
		t.Errorf("expected label to still run after reject, got %q", label)
	}
}

func TestRunMoveInterpolatesDest(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "M1", "new"), "1.eml", "From: alice@example.com\n\nbody\n")
	dst := filepath.Join(root, "alice")
	if err := os.MkdirAll(filepath.Join(dst, "new"), 0o700); err != nil {
		t.Fatal(err)
	}
	msg := parseMsg(t, p, "From: alice@example.com\n\nbody\n")

	header := &expr.Header{Keys: []string{"From"}}
	list := &expr.List{}
	if err := list.Append(&expr.Record{
		Node:     header,
		Msg:      msg,
		Captures: []expr.Capture{{Str: "alice@example.com"}, {Str: "alice"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := list.Append(&expr.Record{
		Node:    &expr.Move{Dest: filepath.Join(root, `\1`)},
		Msg:     msg,
		Maildir: filepath.Join(root, `\1`),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := newExecutor().Run(list, msg)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(res.FinalPath) != filepath.Join(dst, "new") {
		t.Errorf("final path = %q, want under %q", res.FinalPath, filepath.Join(dst, "new"))
	}
}

func TestRunMoveWithUnresolvedBackrefErrorsAndLeavesMessage(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", "\n\nbody\n")
	msg := parseMsg(t, p, "\n\nbody\n")

	list := &expr.List{}
	if err := list.Append(&expr.Record{
		Node:    &expr.Move{Dest: `\1`},
		Msg:     msg,
		Maildir: `\1`,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := newExecutor().Run(list, msg)
	if err == nil {
		t.Fatal("expected an invalid-back-reference error")
	}
	if _, statErr := os.Stat(p); statErr != nil {
		t.Errorf("expected message untouched after an unresolved back-reference, stat err = %v", statErr)
	}
}

// capturingSyscalls wraps the production Syscalls, overriding Run to
// record argv and stdin content instead of spawning a process.
type capturingSyscalls struct {
	Syscalls
	gotArgv  []string
	gotStdin []byte
}

func (c *capturingSyscalls) Run(argv []string, stdin io.Reader) error {
	c.gotArgv = argv
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		c.gotStdin = b
	}
	return nil
}

func TestRunExecStdinBody(t *testing.T) {
	root := t.TempDir()
	// "the body\n" base64-encoded, to confirm StdinBody writes the
	// decoded bytes rather than the raw transfer-encoded ones.
	raw := "Subject: x\nContent-Transfer-Encoding: base64\n\ndGhlIGJvZHkK\n"
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", raw)
	msg := parseMsg(t, p, raw)

	list := &expr.List{}
	if err := list.Append(&expr.Record{
		Node: &expr.Exec{Stdin: expr.StdinBody},
		Msg:  msg,
		Argv: []string{"/bin/cat"},
	}); err != nil {
		t.Fatal(err)
	}

	fake := &capturingSyscalls{Syscalls: OS}
	e := newExecutor()
	e.Syscalls = fake
	res, err := e.Run(list, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Aborted {
		t.Fatal("did not expect abort")
	}
	if string(fake.gotStdin) != "the body\n" {
		t.Errorf("stdin = %q", fake.gotStdin)
	}
	if len(fake.gotArgv) != 1 || fake.gotArgv[0] != "/bin/cat" {
		t.Errorf("argv = %v", fake.gotArgv)
	}
}

func TestRunExecInterpolatesArgv(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", "From: alice@example.com\n\nbody\n")
	msg := parseMsg(t, p, "From: alice@example.com\n\nbody\n")

	header := &expr.Header{Keys: []string{"From"}}
	list := &expr.List{}
	if err := list.Append(&expr.Record{
		Node:     header,
		Msg:      msg,
		Captures: []expr.Capture{{Str: "alice@example.com"}, {Str: "alice"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := list.Append(&expr.Record{
		Node: &expr.Exec{Stdin: expr.StdinOff},
		Msg:  msg,
		Argv: []string{"/usr/bin/notify", `\1`},
	}); err != nil {
		t.Fatal(err)
	}

	fake := &capturingSyscalls{Syscalls: OS}
	e := newExecutor()
	e.Syscalls = fake
	if _, err := e.Run(list, msg); err != nil {
		t.Fatal(err)
	}
	if len(fake.gotArgv) != 2 || fake.gotArgv[1] != "alice" {
		t.Errorf("argv = %v", fake.gotArgv)
	}
}

// failingSyscalls injects a move failure, exercising the Syscalls seam
// the way original_source/fault.c's FAULT hook injects faults into the
// C test suite.
type failingSyscalls struct {
	Syscalls
}

var errMoveInjected = errors.New("injected move failure")

func (failingSyscalls) Move(src, dst *maildir.Maildir, msg *message.Message, hostname string) (string, error) {
	return "", errMoveInjected
}

func TestRunMoveFailureStopsProcessing(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "new"), "1.eml", "\n\nbody\n")
	msg := parseMsg(t, p, "\n\nbody\n")

	list := &expr.List{}
	if err := list.Append(&expr.Record{Node: &expr.Move{}, Msg: msg, Maildir: filepath.Join(root, "M2")}); err != nil {
		t.Fatal(err)
	}
	if err := list.Append(&expr.Record{Node: &expr.Discard{}, Msg: msg}); err != nil {
		t.Fatal(err)
	}

	e := newExecutor()
	e.Syscalls = failingSyscalls{OS}
	_, err := e.Run(list, msg)
	if err == nil {
		t.Fatal("expected error from injected move failure")
	}
	if _, statErr := os.Stat(p); statErr != nil {
		t.Errorf("expected original file untouched after failed move, stat err = %v", statErr)
	}
}
