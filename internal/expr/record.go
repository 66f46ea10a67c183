package expr

import (
	"fmt"

	"github.com/geoffreyhinton/mdsort/internal/mdpath"
	"github.com/geoffreyhinton/mdsort/internal/message"
)

// Capture is one captured submatch, optionally case-converted per a
// Header/Body node's PatternFlag, per spec.md §3.
type Capture struct {
	Str      string
	Beg, End int
}

// Record is one entry of a match list, produced by a single predicate
// or action leaf during evaluation, per spec.md §3's "Match record"
// data model entry.
type Record struct {
	Node     Node
	Msg      *message.Message
	Captures []Capture

	Key            string
	Val            string
	ValBeg, ValEnd int

	Maildir string
	Subdir  string
	Path    string

	Strings []string
	Argv    []string
}

// List is the ordered sequence of Records for one message under one
// rule root, per spec.md §3's "Match list" entry and §4.F's merge
// policy. Unlike the C original's single mutable accumulator, List is
// a plain ordered vector built incrementally during evaluation, per
// spec.md §9's redesign note.
type List struct {
	records []*Record
}

// Len returns the number of records currently in the list.
func (l *List) Len() int { return len(l.records) }

// Truncate discards every record from index n onward, used by Or and
// Neg to roll back records from a branch that did not ultimately
// contribute to the match.
func (l *List) Truncate(n int) { l.records = l.records[:n] }

// Records returns the list's records in order.
func (l *List) Records() []*Record { return l.records }

// CapturesBefore scans backward from index idx (exclusive) for the
// nearest record whose node has the INTERPOLATE capability, returning
// its captures. Used both by Stat's immediate path resolution and by
// the deferred interpolation pass for Move/Label/Exec, per spec.md
// §4.G.
func (l *List) CapturesBefore(idx int) []Capture {
	for i := idx - 1; i >= 0; i-- {
		r := l.records[i]
		if r.Node.Kind().Interpolates() {
			return r.Captures
		}
	}
	return nil
}

// Append inserts rec into the list, applying the move/flag merge
// policy (§4.F). A Move/Flag record whose Subdir is still blank after
// merging gets it inferred from rec.Msg's current location. rec.Path
// is left unresolved: rec.Maildir may still contain back-references
// or macros (Move's Dest, per §4.G), so joining it with the subdir
// happens later, once the deferred interpolation pass in
// internal/action has resolved it against the final match list. See
// ResolvePath.
func (l *List) Append(rec *Record) error {
	l.merge(rec)
	if k := rec.Node.Kind(); (k == KindMove || k == KindFlag) && rec.Subdir == "" && rec.Msg != nil {
		if sd, ok := mdpath.Slice(rec.Msg.Path, -2, -2); ok {
			rec.Subdir = sd
		}
	}
	l.records = append(l.records, rec)
	return nil
}

// merge implements matches_merge from original_source/match.c: two
// consecutive records of the same action type collapse to the
// incoming one, and an incoming Move combines with the first Flag
// already in the list (or an incoming Flag with the first Move) into
// one record carrying maildir from the move side and subdir from the
// flag side.
func (l *List) merge(rec *Record) {
	kind := rec.Node.Kind()
	if kind != KindMove && kind != KindFlag {
		return
	}

	if n := len(l.records); n > 0 && l.records[n-1].Node.Kind() == kind {
		l.records = l.records[:n-1]
		return
	}

	complement := KindFlag
	if kind == KindFlag {
		complement = KindMove
	}
	for i, r := range l.records {
		if r.Node.Kind() != complement {
			continue
		}
		if kind == KindMove {
			rec.Subdir = r.Subdir
		} else {
			rec.Maildir = r.Maildir
		}
		l.records = append(l.records[:i], l.records[i+1:]...)
		break
	}
}

// ResolvePath fills rec.Path by joining rec.Maildir and rec.Subdir,
// inferring either one from rec.Msg's current location when left
// blank, per spec.md §4.F. Callers must first interpolate rec.Maildir
// (Move's Dest may carry back-references/macros, per §4.G) — this
// function does no interpolation of its own, only inference and
// joining.
func ResolvePath(rec *Record) error {
	if rec.Maildir == "" {
		md, ok := mdpath.Slice(rec.Msg.Path, 0, -2)
		if !ok {
			return fmt.Errorf("expr: %s: maildir not found", rec.Msg.Path)
		}
		rec.Maildir = md
	}
	if rec.Subdir == "" {
		sd, ok := mdpath.Slice(rec.Msg.Path, -2, -2)
		if !ok {
			return fmt.Errorf("expr: %s: subdir not found", rec.Msg.Path)
		}
		rec.Subdir = sd
	}
	p, err := mdpath.Join(rec.Maildir, rec.Subdir)
	if err != nil {
		return fmt.Errorf("expr: %w", err)
	}
	rec.Path = p
	return nil
}
