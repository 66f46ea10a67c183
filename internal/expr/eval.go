package expr

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/geoffreyhinton/mdsort/internal/interp"
	"github.com/geoffreyhinton/mdsort/internal/mdpath"
	"github.com/geoffreyhinton/mdsort/internal/message"
)

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// now is overridable by tests.
var now = time.Now

// Evaluate walks root's tree against msg, returning the accumulated
// match list and whether the rule matched overall, per spec.md §4.E.
// A non-nil error indicates a configuration/programming error (an
// invalid Stat interpolation) that is fatal for this message but not
// the run.
func Evaluate(root *Root, msg *message.Message) (*List, bool, error) {
	cookie := root.NextCookie()
	list := &List{}
	matched, err := evalNode(root, root.Child, msg, cookie, list)
	if err != nil {
		return nil, false, err
	}
	if matched {
		root.visit(cookie)
	}
	return list, matched, nil
}

func evalNode(root *Root, n Node, msg *message.Message, cookie int, list *List) (bool, error) {
	var matched bool
	var err error

	switch node := n.(type) {
	case *And:
		matched, err = evalAnd(root, node, msg, cookie, list)
	case *Or:
		matched, err = evalOr(root, node, msg, cookie, list)
	case *Neg:
		matched, err = evalNeg(root, node, msg, cookie, list)
	case *All:
		matched = true
	case *Header:
		matched, err = evalHeader(node, msg, list)
	case *Body:
		matched, err = evalBody(node, msg, list)
	case *New:
		matched = isNew(msg)
	case *Old:
		matched = !isNew(msg)
	case *Stat:
		matched, err = evalStat(node, msg, list)
	case *Date:
		matched, err = evalDate(node, msg)
	case *Move:
		err = list.Append(&Record{Node: node, Msg: msg, Maildir: node.Dest})
		matched = err == nil
	case *Flag:
		err = list.Append(&Record{Node: node, Msg: msg, Subdir: node.Subdir})
		matched = err == nil
	case *Discard:
		err = list.Append(&Record{Node: node, Msg: msg})
		matched = err == nil
	case *Label:
		err = list.Append(&Record{Node: node, Msg: msg, Strings: node.Strings})
		matched = err == nil
	case *Reject:
		err = list.Append(&Record{Node: node, Msg: msg})
		matched = err == nil
	case *Exec:
		err = list.Append(&Record{Node: node, Msg: msg, Argv: node.Argv})
		matched = err == nil
	default:
		return false, fmt.Errorf("expr: unknown node type %T", n)
	}

	if err != nil {
		return false, err
	}
	if matched {
		n.visit(cookie)
	}
	return matched, nil
}

func evalAnd(root *Root, n *And, msg *message.Message, cookie int, list *List) (bool, error) {
	lm, err := evalNode(root, n.L, msg, cookie, list)
	if err != nil || !lm {
		return false, err
	}
	return evalNode(root, n.R, msg, cookie, list)
}

// evalOr evaluates L; if L does not match, its partial records are
// rolled back before R is tried, per spec.md §4.E.
func evalOr(root *Root, n *Or, msg *message.Message, cookie int, list *List) (bool, error) {
	mark := list.Len()
	lm, err := evalNode(root, n.L, msg, cookie, list)
	if err != nil {
		return false, err
	}
	if lm {
		return true, nil
	}
	list.Truncate(mark)
	return evalNode(root, n.R, msg, cookie, list)
}

// evalNeg inverts X's outcome. Records X produced are always rolled
// back: Neg contributes only a boolean, never captures, so downstream
// back-references cannot observe a branch Neg logically rejected.
// This resolves spec.md §9's note that match_copy's overwrite policy
// is inconsistent in the original, by making Neg a pure boolean node.
func evalNeg(root *Root, n *Neg, msg *message.Message, cookie int, list *List) (bool, error) {
	mark := list.Len()
	m, err := evalNode(root, n.X, msg, cookie, list)
	if err != nil {
		return false, err
	}
	list.Truncate(mark)
	return !m, nil
}

func evalHeader(n *Header, msg *message.Message, list *List) (bool, error) {
	for _, key := range n.Keys {
		for _, val := range msg.Headers.Get(key) {
			loc := n.Pattern.FindStringSubmatchIndex(val)
			if loc == nil {
				continue
			}
			rec := &Record{
				Node:     n,
				Msg:      msg,
				Key:      key,
				Val:      val,
				ValBeg:   loc[0],
				ValEnd:   loc[1],
				Captures: captures(val, loc, n.Flags),
			}
			return true, list.Append(rec)
		}
	}
	return false, nil
}

func evalBody(n *Body, msg *message.Message, list *List) (bool, error) {
	body, err := msg.DecodedBody()
	if err != nil || body == nil {
		return false, nil
	}
	s := string(body)
	loc := n.Pattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return false, nil
	}
	rec := &Record{
		Node:     n,
		Msg:      msg,
		Val:      s,
		ValBeg:   loc[0],
		ValEnd:   loc[1],
		Captures: captures(s, loc, n.Flags),
	}
	return true, list.Append(rec)
}

func captures(s string, loc []int, flags PatternFlag) []Capture {
	n := len(loc) / 2
	out := make([]Capture, n)
	for i := 0; i < n; i++ {
		b, e := loc[2*i], loc[2*i+1]
		if b < 0 {
			out[i] = Capture{Beg: -1, End: -1}
			continue
		}
		sub := s[b:e]
		if flags&LCase != 0 {
			sub = strings.ToLower(sub)
		}
		if flags&UCase != 0 {
			sub = strings.ToUpper(sub)
		}
		out[i] = Capture{Str: sub, Beg: b, End: e}
	}
	return out
}

// isNew reports whether msg sits in new/ and has not been flagged
// seen, per spec.md §4.E's merged NEW/OLD semantics. OLD is its exact
// logical inverse; see DESIGN.md for why this departs from
// original_source/expr.c's asymmetric placement of the S-flag check.
func isNew(msg *message.Message) bool {
	sub, ok := mdpath.Slice(msg.Path, -2, -2)
	return ok && sub == "new" && !msg.Flags().Has('S')
}

// evalStat resolves Path against the nearest preceding capture group
// already present in the in-progress list, then checks whether the
// resulting filesystem path exists.
func evalStat(n *Stat, msg *message.Message, list *List) (bool, error) {
	resolveBackref := func(i int) (string, bool) {
		caps := list.CapturesBefore(list.Len())
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
	resolved, err := interp.Substitute(n.Path, resolveBackref, resolveMacro)
	if err != nil {
		return false, fmt.Errorf("expr: stat: %w", err)
	}
	exists := pathExists(resolved)
	if err := list.Append(&Record{Node: n, Msg: msg, Path: resolved}); err != nil {
		return false, err
	}
	return exists, nil
}

func evalDate(n *Date, msg *message.Message) (bool, error) {
	raw, ok := msg.Headers.First(n.Field)
	if !ok {
		return false, nil
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		return false, nil
	}
	threshold := now().Add(-n.Delta)
	switch n.Op {
	case DateBefore:
		return t.Before(threshold), nil
	case DateAfter:
		return t.After(threshold), nil
	default:
		return false, nil
	}
}
