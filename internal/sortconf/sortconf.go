// Package sortconf models the configuration surface spec.md §6
// describes: a list of (maildir_root, expression_tree) tuples handed
// to the core. The declarative grammar that would normally produce
// this tree is explicitly out of scope (spec.md §2's non-goals list
// "the configuration grammar parser itself"), so Load reads an
// already-structured JSON document shaped like the tuple list instead
// of parsing a DSL; see DESIGN.md for the Open Question this resolves.
package sortconf

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/geoffreyhinton/mdsort/internal/expr"
)

// Rule pairs one Maildir root with the expression tree evaluated
// against every message found under it.
type Rule struct {
	MaildirRoot string
	Root        *expr.Root
}

// Config is the full ordered list of rules a run processes.
type Config struct {
	Rules []Rule
}

// doc mirrors Config/Rule as a JSON document; nodes are decoded by the
// "type" discriminator into the matching expr.Node concrete type.
type doc struct {
	Rules []ruleDoc `json:"rules"`
}

type ruleDoc struct {
	MaildirRoot string  `json:"maildir_root"`
	Match       nodeDoc `json:"match"`
}

type nodeDoc struct {
	Type    string    `json:"type"`
	L       *nodeDoc  `json:"l,omitempty"`
	R       *nodeDoc  `json:"r,omitempty"`
	X       *nodeDoc  `json:"x,omitempty"`
	Child   *nodeDoc  `json:"child,omitempty"`
	Keys    []string  `json:"keys,omitempty"`
	Pattern string    `json:"pattern,omitempty"`
	ICase   bool      `json:"icase,omitempty"`
	LCase   bool      `json:"lcase,omitempty"`
	UCase   bool      `json:"ucase,omitempty"`
	Path    string    `json:"path,omitempty"`
	Field   string    `json:"field,omitempty"`
	Op      string    `json:"op,omitempty"`
	DeltaS  int64     `json:"delta_seconds,omitempty"`
	Dest    string    `json:"dest,omitempty"`
	Subdir  string    `json:"subdir,omitempty"`
	Strings []string  `json:"strings,omitempty"`
	Argv    []string  `json:"argv,omitempty"`
	Stdin   string    `json:"stdin,omitempty"`
}

// Load reads and decodes the configuration document at path, per
// spec.md §6's "-f <path>" CLI surface.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sortconf: %w", err)
	}
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("sortconf: %s: %w", path, err)
	}
	cfg := &Config{Rules: make([]Rule, 0, len(d.Rules))}
	for _, rd := range d.Rules {
		child, err := build(&rd.Match)
		if err != nil {
			return nil, fmt.Errorf("sortconf: %s: rule for %s: %w", path, rd.MaildirRoot, err)
		}
		cfg.Rules = append(cfg.Rules, Rule{MaildirRoot: rd.MaildirRoot, Root: &expr.Root{Child: child}})
	}
	return cfg, nil
}

func build(n *nodeDoc) (expr.Node, error) {
	if n == nil {
		return nil, fmt.Errorf("sortconf: missing node")
	}
	switch n.Type {
	case "and":
		l, err := build(n.L)
		if err != nil {
			return nil, err
		}
		r, err := build(n.R)
		if err != nil {
			return nil, err
		}
		return &expr.And{L: l, R: r}, nil
	case "or":
		l, err := build(n.L)
		if err != nil {
			return nil, err
		}
		r, err := build(n.R)
		if err != nil {
			return nil, err
		}
		return &expr.Or{L: l, R: r}, nil
	case "neg":
		x, err := build(n.X)
		if err != nil {
			return nil, err
		}
		return &expr.Neg{X: x}, nil
	case "all":
		return &expr.All{}, nil
	case "header", "body":
		flags := buildFlags(n)
		re, err := compilePattern(n.Pattern, n.ICase)
		if err != nil {
			return nil, err
		}
		if n.Type == "header" {
			return &expr.Header{Keys: n.Keys, Pattern: re, NSub: re.NumSubexp(), Flags: flags}, nil
		}
		return &expr.Body{Pattern: re, NSub: re.NumSubexp(), Flags: flags}, nil
	case "new":
		return &expr.New{}, nil
	case "old":
		return &expr.Old{}, nil
	case "stat":
		return &expr.Stat{Path: n.Path}, nil
	case "date":
		op, err := parseDateOp(n.Op)
		if err != nil {
			return nil, err
		}
		field := n.Field
		if field == "" {
			field = "Date"
		}
		return &expr.Date{Field: field, Op: op, Delta: time.Duration(n.DeltaS) * time.Second}, nil
	case "move":
		return &expr.Move{Dest: n.Dest}, nil
	case "flag":
		return &expr.Flag{Subdir: n.Subdir}, nil
	case "discard":
		return &expr.Discard{}, nil
	case "label":
		return &expr.Label{Strings: n.Strings}, nil
	case "reject":
		return &expr.Reject{}, nil
	case "exec":
		stdin, err := parseStdinMode(n.Stdin)
		if err != nil {
			return nil, err
		}
		return &expr.Exec{Argv: n.Argv, Stdin: stdin}, nil
	default:
		return nil, fmt.Errorf("sortconf: unknown node type %q", n.Type)
	}
}

func buildFlags(n *nodeDoc) expr.PatternFlag {
	var f expr.PatternFlag
	if n.ICase {
		f |= expr.ICase
	}
	if n.LCase {
		f |= expr.LCase
	}
	if n.UCase {
		f |= expr.UCase
	}
	return f
}

func compilePattern(pattern string, icase bool) (*regexp.Regexp, error) {
	p := pattern
	if icase {
		p = "(?i)" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("sortconf: pattern %q: %w", pattern, err)
	}
	return re, nil
}

func parseDateOp(s string) (expr.DateOp, error) {
	switch s {
	case "before":
		return expr.DateBefore, nil
	case "after":
		return expr.DateAfter, nil
	default:
		return 0, fmt.Errorf("sortconf: unknown date op %q", s)
	}
}

func parseStdinMode(s string) (expr.StdinMode, error) {
	switch s {
	case "", "off":
		return expr.StdinOff, nil
	case "message":
		return expr.StdinMessage, nil
	case "body":
		return expr.StdinBody, nil
	default:
		return 0, fmt.Errorf("sortconf: unknown exec stdin mode %q", s)
	}
}

