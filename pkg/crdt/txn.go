package crdt

// Txn is the only way roots are read or mutated. A read-only Txn (from
// Doc.ReadTxn, or the one handed to an observer) panics if a mutating
// method is called on it, the same contract sync.RWMutex enforces by
// convention rather than by the type system.
type Txn struct {
	doc      *Doc
	readOnly bool
	remote   bool

	ops    []Op
	events []Event
}

func (t *Txn) mustWritable() {
	if t.readOnly {
		panic("crdt: write attempted on a read-only transaction")
	}
}

func (t *Txn) record(op Op, ev *Event) {
	t.ops = append(t.ops, op)
	if ev != nil {
		t.events = append(t.events, *ev)
	}
}

// Ops returns every op this write transaction produced so far, the form
// the persistence layer logs and the sync layer broadcasts (spec §6/§4.8).
func (t *Txn) Ops() []Op { return append([]Op(nil), t.ops...) }

// --- map ---

func (t *Txn) MapSet(root, key string, value any) {
	t.mustWritable()
	t.doc.ensureRootLocked(root, RootMap)
	id := t.doc.clock.next()
	op := Op{Root: root, Kind: OpMapSet, ID: id, Key: key, Value: value}
	t.record(op, t.doc.applyOp(op))
}

func (t *Txn) MapDelete(root, key string) {
	t.mustWritable()
	t.doc.ensureRootLocked(root, RootMap)
	id := t.doc.clock.next()
	op := Op{Root: root, Kind: OpMapDelete, ID: id, Key: key}
	t.record(op, t.doc.applyOp(op))
}

func (t *Txn) MapGet(root, key string) (any, bool) {
	rt := t.doc.ensureRootLocked(root, RootMap)
	return rt.m.get(key)
}

func (t *Txn) MapKeys(root string) []string {
	rt := t.doc.ensureRootLocked(root, RootMap)
	return rt.m.keys()
}

func (t *Txn) MapLen(root string) int {
	rt := t.doc.ensureRootLocked(root, RootMap)
	return rt.m.len()
}

// MapSnapshot returns every visible key/value pair of root.
func (t *Txn) MapSnapshot(root string) map[string]any {
	rt := t.doc.ensureRootLocked(root, RootMap)
	return rt.m.snapshot()
}

// --- array ---

func arrayOriginForIndex(a *arrayType, index int) ID {
	if index <= 0 {
		return Zero
	}
	if id, ok := a.idAtVisibleIndex(index - 1); ok {
		return id
	}
	return a.lastVisibleID()
}

func (t *Txn) ArrayInsert(root string, index int, value any) {
	t.mustWritable()
	rt := t.doc.ensureRootLocked(root, RootArray)
	origin := arrayOriginForIndex(rt.a, index)
	id := t.doc.clock.next()
	op := Op{Root: root, Kind: OpArrayInsert, ID: id, Origin: origin, Value: value}
	t.record(op, t.doc.applyOp(op))
}

// ArrayPush appends value at the tail of root.
func (t *Txn) ArrayPush(root string, value any) {
	t.ArrayInsert(root, t.ArrayLen(root), value)
}

func (t *Txn) ArrayDelete(root string, index int) {
	t.mustWritable()
	rt := t.doc.ensureRootLocked(root, RootArray)
	target, ok := rt.a.idAtVisibleIndex(index)
	if !ok {
		return
	}
	id := t.doc.clock.next()
	op := Op{Root: root, Kind: OpArrayDelete, ID: id, TargetID: target}
	t.record(op, t.doc.applyOp(op))
}

func (t *Txn) ArrayValues(root string) []any {
	rt := t.doc.ensureRootLocked(root, RootArray)
	return rt.a.values()
}

func (t *Txn) ArrayLen(root string) int {
	rt := t.doc.ensureRootLocked(root, RootArray)
	return rt.a.len()
}

// --- text ---

func textOriginForIndex(tt *textType, index int) ID {
	if index <= 0 {
		return Zero
	}
	if id, ok := tt.idAtVisibleIndex(index - 1); ok {
		return id
	}
	return tt.lastVisibleID()
}

func (t *Txn) TextInsert(root string, index int, s string, attrs map[string]any) {
	t.mustWritable()
	rt := t.doc.ensureRootLocked(root, RootText)
	origin := textOriginForIndex(rt.t, index)

	chars := make([]TextCharOp, 0, len(s))
	for _, ch := range s {
		chars = append(chars, TextCharOp{ID: t.doc.clock.next(), Ch: ch})
	}
	if len(chars) == 0 {
		return
	}
	op := Op{Root: root, Kind: OpTextInsert, Origin: origin, Chars: chars, Attrs: attrs}
	t.record(op, t.doc.applyOp(op))
}

// TextPush appends s at the end of root's current content.
func (t *Txn) TextPush(root, s string, attrs map[string]any) {
	t.TextInsert(root, t.TextLen(root), s, attrs)
}

func (t *Txn) TextDelete(root string, index, length int) {
	t.mustWritable()
	rt := t.doc.ensureRootLocked(root, RootText)
	ids := rt.t.idsInVisibleRange(index, length)
	if len(ids) == 0 {
		return
	}
	id := t.doc.clock.next()
	op := Op{Root: root, Kind: OpTextDelete, ID: id, IDs: ids}
	t.record(op, t.doc.applyOp(op))
}

func (t *Txn) TextFormat(root string, index, length int, attrs map[string]any) {
	t.mustWritable()
	rt := t.doc.ensureRootLocked(root, RootText)
	ids := rt.t.idsInVisibleRange(index, length)
	if len(ids) == 0 || len(attrs) == 0 {
		return
	}
	id := t.doc.clock.next()
	op := Op{Root: root, Kind: OpTextFormat, ID: id, IDs: ids, Attrs: attrs}
	t.record(op, t.doc.applyOp(op))
}

func (t *Txn) TextDelta(root string) []Segment {
	rt := t.doc.ensureRootLocked(root, RootText)
	return rt.t.delta()
}

func (t *Txn) TextString(root string) string {
	rt := t.doc.ensureRootLocked(root, RootText)
	return rt.t.plainText()
}

func (t *Txn) TextLen(root string) int {
	rt := t.doc.ensureRootLocked(root, RootText)
	return rt.t.len()
}
