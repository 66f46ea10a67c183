// Package inspect renders a match list for dry-run/verbose output per
// spec.md §4.I, grounded on original_source/match.c's matches_inspect
// and expr.c's expr_inspect/expr_inspect_header/expr_inspect_body.
package inspect

import (
	"fmt"
	"io"
	"strings"

	"github.com/geoffreyhinton/mdsort/internal/expr"
)

// Print writes list's action trail to w: one "source -> dest" line per
// action record. When dryRun is true, every contributing predicate
// record between the previous action and the current one is rendered
// as a two-line caret/dollar underline beneath the line it matched.
// sourcePath is the message's original path (or "<stdin>" when the
// message was read from standard input), matching matches_inspect's
// OPTION_STDIN special case.
func Print(w io.Writer, list *expr.List, sourcePath string, dryRun bool) {
	recs := list.Records()
	lhs := 0
	for i, rec := range recs {
		if !rec.Node.Kind().IsAction() {
			continue
		}

		dest := rec.Path
		if dest == "" {
			dest = describeAction(rec)
		}
		fmt.Fprintf(w, "%s -> %s\n", sourcePath, dest)

		if dryRun {
			for j := lhs; j < i; j++ {
				printPredicate(w, recs[j])
			}
		}
		lhs = i + 1
	}
}

func describeAction(rec *expr.Record) string {
	switch rec.Node.Kind() {
	case expr.KindDiscard:
		return "(discard)"
	case expr.KindReject:
		return "(reject)"
	case expr.KindLabel:
		return "(label)"
	case expr.KindExec:
		return "(exec)"
	default:
		return "(action)"
	}
}

// printPredicate renders the caret/dollar underline for a single
// predicate record, per spec.md §4.I. A match spanning a newline is
// suppressed, since the underline's column math assumes one line. A
// Header record's line carries its "Key: " prefix, per
// expr_inspect_header, so the caret shifts right by len(Key)+2 on top
// of valbeg; a Body record's line is the bare matched text.
func printPredicate(w io.Writer, rec *expr.Record) {
	if !rec.Node.Kind().Interpolates() {
		return
	}
	if strings.ContainsRune(rec.Val[rec.ValBeg:rec.ValEnd], '\n') {
		return
	}

	line := rec.Val
	padBeg := rec.ValBeg
	if rec.Node.Kind() == expr.KindHeader {
		line = rec.Key + ": " + rec.Val
		padBeg = len(rec.Key) + 2 + rec.ValBeg
	}

	fmt.Fprintln(w, line)
	fmt.Fprint(w, strings.Repeat(" ", padBeg))
	fmt.Fprint(w, "^")
	if rec.ValEnd-2 > rec.ValBeg {
		fmt.Fprint(w, strings.Repeat(" ", rec.ValEnd-2-rec.ValBeg))
	}
	fmt.Fprintln(w, "$")
}
