package crdt

// arrayItem is one RGA element: a unique id, the id of the element it was
// inserted immediately after (Zero meaning "head of the list"), and a
// tombstone flag. Tombstones are kept (never compacted) so later inserts
// can still reference them as an origin.
type arrayItem struct {
	id      ID
	origin  ID
	value   any
	deleted bool
}

// arrayType is a simplified RGA (Replicated Growable Array): inserts are
// positioned relative to a left origin and ties between concurrent inserts
// at the same origin are broken by ID, so every replica converges on the
// same order regardless of delivery order. This tracks only a left origin
// (unlike YATA/Yjs's left+right origin scheme), which keeps the algorithm
// simple at the cost of slightly weaker interleaving guarantees for
// concurrent inserts deep inside a deleted range — acceptable for the
// block/row/field orderings this type backs (spec §9 open question: the
// source's dynamic dispatch over CRDT backends is replaced here with one
// concrete, documented algorithm).
type arrayType struct {
	items []*arrayItem
	index map[ID]int
}

func newArrayType() *arrayType {
	return &arrayType{index: make(map[ID]int)}
}

// insert places a new item with id immediately after origin (Zero for
// head), resolving concurrent same-origin inserts by descending ID so
// every replica agrees on the resulting order.
func (a *arrayType) insert(id, origin ID, value any) {
	pos := 0
	if !origin.IsZero() {
		if i, ok := a.index[origin]; ok {
			pos = i + 1
		}
	}
	for pos < len(a.items) && a.items[pos].origin == origin && id.Less(a.items[pos].id) {
		pos++
	}
	item := &arrayItem{id: id, origin: origin, value: value}
	a.items = append(a.items, nil)
	copy(a.items[pos+1:], a.items[pos:])
	a.items[pos] = item
	a.reindexFrom(pos)
}

func (a *arrayType) reindexFrom(pos int) {
	for i := pos; i < len(a.items); i++ {
		a.index[a.items[i].id] = i
	}
}

// remove tombstones id. Idempotent: deleting an already-deleted or unknown
// id is a no-op (concurrent delete/delete and delete/unknown-id are both
// legal under replay).
func (a *arrayType) remove(id ID) bool {
	i, ok := a.index[id]
	if !ok || a.items[i].deleted {
		return false
	}
	a.items[i].deleted = true
	return true
}

// visiblePosition returns the index among visible (non-tombstoned) items
// for the item with the given id, or -1 if not present/visible.
func (a *arrayType) visiblePosition(id ID) int {
	pos := -1
	for i, it := range a.items {
		if it.deleted {
			continue
		}
		pos++
		if it.id == id {
			return pos
		}
	}
	return -1
}

func (a *arrayType) values() []any {
	out := make([]any, 0, len(a.items))
	for _, it := range a.items {
		if !it.deleted {
			out = append(out, it.value)
		}
	}
	return out
}

func (a *arrayType) ids() []ID {
	out := make([]ID, 0, len(a.items))
	for _, it := range a.items {
		if !it.deleted {
			out = append(out, it.id)
		}
	}
	return out
}

func (a *arrayType) len() int {
	n := 0
	for _, it := range a.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

// lastVisibleID returns the id of the last visible item, or Zero if empty
// (i.e. "append at tail" translates to origin = lastVisibleID()).
func (a *arrayType) lastVisibleID() ID {
	for i := len(a.items) - 1; i >= 0; i-- {
		if !a.items[i].deleted {
			return a.items[i].id
		}
	}
	return Zero
}

func (a *arrayType) contains(id ID) bool {
	i, ok := a.index[id]
	return ok && !a.items[i].deleted
}

// idAtVisibleIndex returns the id of the i-th visible (non-tombstoned)
// item, 0-based, or ok=false if i is out of range.
func (a *arrayType) idAtVisibleIndex(i int) (ID, bool) {
	if i < 0 {
		return Zero, false
	}
	pos := 0
	for _, it := range a.items {
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
