package message

import (
	"sort"
	"strings"

	"github.com/geoffreyhinton/mdsort/internal/mimeutil"
)

// header is one parsed header cell. raw may still contain embedded fold
// sequences ("\n" followed by leading whitespace); Unfold collapses them
// on read. owned marks a value that was written by Set rather than
// pointing at a slice of the original message buffer, mirroring the
// dirty-flag distinction spec.md draws between parsed and mutated cells.
type header struct {
	id    int
	key   string
	raw   string
	owned bool
}

// Headers is the ordered, case-insensitively searchable header list of a
// message. Entries are kept in write order; a lazily rebuilt index
// supports binary search by case-folded key, mirroring the "insertion
// order plus a sorted duplicate view" model of spec.md §3.
type Headers struct {
	entries []*header
	index   []int // indices into entries, sorted by (foldedKey, id)
	stale   bool
	nextID  int
}

func newHeaders() *Headers {
	return &Headers{}
}

func (h *Headers) append(key, raw string) {
	h.entries = append(h.entries, &header{id: h.nextID, key: key, raw: raw})
	h.nextID++
	h.stale = true
}

func (h *Headers) rebuildIndex() {
	if !h.stale {
		return
	}
	idx := make([]int, len(h.entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka := strings.ToLower(h.entries[idx[a]].key)
		kb := strings.ToLower(h.entries[idx[b]].key)
		if ka != kb {
			return ka < kb
		}
		return h.entries[idx[a]].id < h.entries[idx[b]].id
	})
	h.index = idx
	h.stale = false
}

// run returns the slice of entry indices (in insertion order) whose key
// case-insensitively equals key, located via binary search on the sorted
// duplicate view.
func (h *Headers) run(key string) []int {
	h.rebuildIndex()
	folded := strings.ToLower(key)
	n := len(h.index)
	lo := sort.Search(n, func(i int) bool {
		return strings.ToLower(h.entries[h.index[i]].key) >= folded
	})
	var out []int
	for i := lo; i < n && strings.ToLower(h.entries[h.index[i]].key) == folded; i++ {
		out = append(out, h.index[i])
	}
	sort.Ints(out) // restore insertion order for the run
	return out
}

// Get returns every value stored for key, unfolded and RFC 2047-decoded.
func (h *Headers) Get(key string) []string {
	idxs := h.run(key)
	if len(idxs) == 0 {
		return nil
	}
	vals := make([]string, 0, len(idxs))
	for _, i := range idxs {
		unfolded := unfold(h.entries[i].raw)
		decoded, err := mimeutil.DecodeHeaderWords(unfolded)
		if err != nil {
			decoded = unfolded
		}
		vals = append(vals, decoded)
	}
	return vals
}

// First returns the first value for key, or ok=false if absent.
func (h *Headers) First(key string) (string, bool) {
	vals := h.Get(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Set replaces the first occurrence of key with value and removes any
// later duplicates. If key is absent, a new header is inserted in
// alphabetic storage order among the existing entries.
func (h *Headers) Set(key, value string) {
	idxs := h.run(key)
	if len(idxs) == 0 {
		h.insertAlphabetic(key, value)
		return
	}
	first := idxs[0]
	h.entries[first].raw = value
	h.entries[first].owned = true

	if len(idxs) > 1 {
		remove := make(map[int]bool, len(idxs)-1)
		for _, i := range idxs[1:] {
			remove[i] = true
		}
		kept := h.entries[:0]
		for i, e := range h.entries {
			if remove[i] {
				continue
			}
			kept = append(kept, e)
		}
		h.entries = kept
	}
	h.stale = true
}

func (h *Headers) insertAlphabetic(key, value string) {
	e := &header{id: h.nextID, key: key, raw: value, owned: true}
	h.nextID++
	folded := strings.ToLower(key)
	pos := len(h.entries)
	for i, existing := range h.entries {
		if strings.ToLower(existing.key) > folded {
			pos = i
			break
		}
	}
	h.entries = append(h.entries, nil)
	copy(h.entries[pos+1:], h.entries[pos:])
	h.entries[pos] = e
	h.stale = true
}

// unfold collapses CRLF/LF line-continuation whitespace runs into a
// single space, per the RFC 5322 folding rule.
func unfold(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var b strings.Builder
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c == '\n' {
			b.WriteByte(' ')
			i++
			for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t') {
				i++
			}
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}
