// Package engine drives one run of the sorter end to end: walking
// each configured Maildir, parsing and evaluating every message, and
// applying or inspecting the resulting actions. It is the Go
// counterpart of the teacher's cmd/imap.go top-level wiring, grounded
// on spec.md §2's data-flow summary (C -> B -> E/F -> G -> H/I).
package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/geoffreyhinton/mdsort/internal/action"
	"github.com/geoffreyhinton/mdsort/internal/expr"
	"github.com/geoffreyhinton/mdsort/internal/inspect"
	"github.com/geoffreyhinton/mdsort/internal/maildir"
	"github.com/geoffreyhinton/mdsort/internal/message"
	"github.com/geoffreyhinton/mdsort/internal/mlog"
	"github.com/geoffreyhinton/mdsort/internal/sortconf"
)

// Options configures one run.
type Options struct {
	// DryRun enables verbose inspect output without applying actions.
	DryRun bool
	// SyntaxOnly parses and type-checks the configuration but walks no
	// Maildirs, per spec.md §6's "-n" flag.
	SyntaxOnly bool
	Hostname   string
	Log        mlog.Logger
	Out        io.Writer
}

// Report summarizes one run across every configured rule.
type Report struct {
	Processed int
	Rejected  int
	Errors    []error
}

// RunProcessed, RunRejected and RunErrors satisfy runlog.Reportable
// without this package importing runlog.
func (r *Report) RunProcessed() int { return r.Processed }
func (r *Report) RunRejected() int  { return r.Rejected }
func (r *Report) RunErrors() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

// Run executes cfg's rules in order, per Options. The returned error
// is non-nil only for a fatal configuration problem; per-message
// failures are accumulated into Report.Errors and do not stop the
// run, per spec.md §7's error-handling model.
func Run(cfg *sortconf.Config, opts Options) (*Report, error) {
	report := &Report{}
	if opts.SyntaxOnly {
		return report, nil
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = mlog.Nop()
	}

	exec := action.New(opts.Hostname, opts.Log, opts.DryRun)

	for _, rule := range cfg.Rules {
		md, err := maildir.Open(rule.MaildirRoot, true)
		if err != nil {
			return nil, fmt.Errorf("engine: open %s: %w", rule.MaildirRoot, err)
		}

		walkErr := md.Walk(func(e maildir.Entries) error {
			processOne(e.Path, rule.Root, exec, opts, report)
			return nil
		})
		if walkErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("engine: walk %s: %w", rule.MaildirRoot, walkErr))
		}
	}
	return report, nil
}

func processOne(path string, root *expr.Root, exec *action.Executor, opts Options, report *Report) {
	data, err := os.ReadFile(path)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("engine: read %s: %w", path, err))
		return
	}
	msg, err := message.Parse(path, data)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("engine: parse %s: %w", path, err))
		return
	}

	list, matched, err := expr.Evaluate(root, msg)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("engine: evaluate %s: %w", path, err))
		return
	}
	if !matched {
		return
	}

	if opts.DryRun {
		inspect.Print(opts.Out, list, path, true)
	}

	res, err := exec.Run(list, msg)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("engine: execute %s: %w", path, err))
		return
	}
	report.Processed++
	if res.Rejected {
		report.Rejected++
	}
}
