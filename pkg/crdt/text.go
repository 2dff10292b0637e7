package crdt

import "sort"

// textItem is one RGA-positioned rune plus its attribute set, itself a
// small LWW-per-key map so concurrent Format ops on overlapping ranges
// converge.
type textItem struct {
	id      ID
	origin  ID
	ch      rune
	deleted bool
	attrs   map[string]*lww[any]
}

func (it *textItem) visibleAttrs() map[string]any {
	if len(it.attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(it.attrs))
	for k, r := range it.attrs {
		if !r.deleted {
			out[k] = r.value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// textType is an RGA over individual runes, the way this codebase's RGA
// array works, specialized to also carry per-rune formatting attributes so
// Format ops can cover arbitrary, possibly non-contiguous-after-edits,
// ranges (spec §3: text_map delta of {insert, attributes?}).
type textType struct {
	items []*textItem
	index map[ID]int
}

func newTextType() *textType {
	return &textType{index: make(map[ID]int)}
}

func (t *textType) reindexFrom(pos int) {
	for i := pos; i < len(t.items); i++ {
		t.index[t.items[i].id] = i
	}
}

func (t *textType) insertOne(id, origin ID, ch rune, attrs map[string]any) {
	pos := 0
	if !origin.IsZero() {
		if i, ok := t.index[origin]; ok {
			pos = i + 1
		}
	}
	for pos < len(t.items) && t.items[pos].origin == origin && id.Less(t.items[pos].id) {
		pos++
	}
	item := &textItem{id: id, origin: origin, ch: ch}
	if len(attrs) > 0 {
		item.attrs = make(map[string]*lww[any], len(attrs))
		for k, v := range attrs {
			item.attrs[k] = &lww[any]{id: id, value: v, set: true}
		}
	}
	t.items = append(t.items, nil)
	copy(t.items[pos+1:], t.items[pos:])
	t.items[pos] = item
	t.reindexFrom(pos)
}

func (t *textType) lastVisibleID() ID {
	for i := len(t.items) - 1; i >= 0; i-- {
		if !t.items[i].deleted {
			return t.items[i].id
		}
	}
	return Zero
}

// removeIDs tombstones every rune named in ids that is still visible,
// returning the subset actually removed.
func (t *textType) removeIDs(ids []ID) []ID {
	var removed []ID
	for _, id := range ids {
		i, ok := t.index[id]
		if ok && !t.items[i].deleted {
			t.items[i].deleted = true
			removed = append(removed, id)
		}
	}
	return removed
}

// formatIDs applies attrs (LWW per key, id vs id) to every rune named in
// ids, whether or not it is still visible (a format racing a delete still
// needs to resolve deterministically if the delete is later undone by a
// losing concurrent write elsewhere).
func (t *textType) formatIDs(id ID, ids []ID, attrs map[string]any) {
	for _, rid := range ids {
		i, ok := t.index[rid]
		if !ok {
			continue
		}
		item := t.items[i]
		if item.attrs == nil {
			item.attrs = make(map[string]*lww[any])
		}
		for k, v := range attrs {
			r, ok := item.attrs[k]
			if !ok {
				r = &lww[any]{}
				item.attrs[k] = r
			}
			r.apply(id, v, false)
		}
	}
}

// idAtVisibleIndex returns the id of the i-th visible rune, 0-based, or
// ok=false if i is out of range.
func (t *textType) idAtVisibleIndex(i int) (ID, bool) {
	if i < 0 {
		return Zero, false
	}
	pos := 0
	for _, it := range t.items {
		if it.deleted {
			continue
		}
		if pos == i {
			return it.id, true
		}
		pos++
	}
	return Zero, false
}

// idsInVisibleRange returns the ids of the length runes starting at the
// index-th visible rune, stopping early if the text is shorter.
func (t *textType) idsInVisibleRange(index, length int) []ID {
	if index < 0 || length <= 0 {
		return nil
	}
	var ids []ID
	pos := 0
	for _, it := range t.items {
		if it.deleted {
			continue
		}
		if pos >= index && pos < index+length {
			ids = append(ids, it.id)
		}
		pos++
		if pos >= index+length {
			break
		}
	}
	return ids
}

func (t *textType) len() int {
	n := 0
	for _, it := range t.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

// Segment is one run of a text delta: consecutive visible runes sharing an
// identical attribute set, matching spec.md §3's {insert, attributes?}.
type Segment struct {
	Insert     string
	Attributes map[string]any
}

// delta renders the current visible content as a coalesced run list.
func (t *textType) delta() []Segment {
	var segs []Segment
	var cur []rune
	var curAttrs map[string]any

	flush := func() {
		if len(cur) > 0 {
			segs = append(segs, Segment{Insert: string(cur), Attributes: curAttrs})
			cur = nil
			curAttrs = nil
		}
	}

	for _, it := range t.items {
		if it.deleted {
			continue
		}
		attrs := it.visibleAttrs()
		if !attrsEqual(attrs, curAttrs) {
			flush()
			curAttrs = attrs
		}
		cur = append(cur, it.ch)
	}
	flush()
	return segs
}

func (t *textType) plainText() string {
	var out []rune
	for _, it := range t.items {
		if !it.deleted {
			out = append(out, it.ch)
		}
	}
	return string(out)
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bv, ok := b[k]
		if !ok || !valueEqual(a[k], bv) {
			return false
		}
	}
	return true
}
