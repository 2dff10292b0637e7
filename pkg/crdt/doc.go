package crdt

import "sync"

// rootKind tags which shared type a named root holds.
type rootKind int

const (
	RootMap rootKind = iota
	RootArray
	RootText
)

type root struct {
	kind rootKind
	m    *mapType
	a    *arrayType
	t    *textType
}

type observerEntry struct {
	root string
	fn   Observer
}

// Doc is a CRDT document: a set of named roots (maps, arrays, texts) that
// share one Lamport clock and one observer registry, and can be mutated
// only through a transaction (txn.go). This mirrors the shared-type /
// transact split the structured overlays (document, database, folder) are
// built on top of.
type Doc struct {
	mu      sync.Mutex
	replica uint64
	clock   *clockSource
	roots   map[string]*root

	obsMu     sync.RWMutex
	observers map[uint64]*observerEntry
	nextObsID uint64
}

// NewDoc creates an empty document identified by replica, the id used to
// break ties between concurrent writers (spec §3: every client/server
// instance is a distinct replica).
func NewDoc(replica uint64) *Doc {
	return &Doc{
		replica:   replica,
		clock:     newClockSource(replica),
		roots:     make(map[string]*root),
		observers: make(map[uint64]*observerEntry),
	}
}

// ensureRootLocked returns the named root, creating it with kind if
// absent. Callers must hold d.mu. A root requested under two different
// kinds is a programming error in the caller (e.g. a document overlay
// reading "children_map" as an array after another overlay declared it a
// map), not a recoverable runtime condition, so this panics rather than
// returning an error.
func (d *Doc) ensureRootLocked(name string, kind rootKind) *root {
	rt, ok := d.roots[name]
	if !ok {
		rt = &root{kind: kind}
		switch kind {
		case RootMap:
			rt.m = newMapType()
		case RootArray:
			rt.a = newArrayType()
		case RootText:
			rt.t = newTextType()
		}
		d.roots[name] = rt
		return rt
	}
	if rt.kind != kind {
		panic("crdt: root \"" + name + "\" already exists with a different shared type")
	}
	return rt
}

// ReadTxn runs fn against a read-only view of the document. Concurrent
// ReadTxns and WriteTxns are serialized against each other; this package
// makes no attempt at snapshot isolation beyond that.
func (d *Doc) ReadTxn(fn func(*Txn) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(&Txn{doc: d, readOnly: true})
}

// WriteTxn runs fn against a writable transaction and, if it returns
// without error and produced any visible change, dispatches the resulting
// events to observers after releasing the document lock. There is no
// rollback: a write transaction's mutations are CRDT ops and are applied
// as they are issued, so returning an error from fn does not undo writes
// already made inside it. Callers that need all-or-nothing semantics must
// validate before calling mutating methods.
func (d *Doc) WriteTxn(fn func(*Txn) error) error {
	d.mu.Lock()
	txn := &Txn{doc: d}
	err := fn(txn)
	events := txn.events
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if len(events) > 0 {
		d.dispatch(txn, events)
	}
	return nil
}

// ApplyUpdate merges a remotely produced op stream into the document,
// advancing the local clock past every clock value it carries and
// dispatching the resulting events the same way a local WriteTxn would
// (spec §5: plugins observe remote updates identically to local writes).
func (d *Doc) ApplyUpdate(ops []Op) []Event {
	d.mu.Lock()
	txn := &Txn{doc: d, readOnly: true, remote: true}
	var events []Event
	for _, op := range ops {
		d.clock.observe(op.maxClock())
		if ev := d.applyOp(op); ev != nil {
			events = append(events, *ev)
		}
	}
	d.mu.Unlock()

	if len(events) > 0 {
		d.dispatch(txn, events)
	}
	return events
}

// Observe registers fn to receive every event from every root.
func (d *Doc) Observe(fn Observer) *Subscription {
	return d.observe("", fn)
}

// ObserveRoot registers fn to receive only events for the named root.
func (d *Doc) ObserveRoot(root string, fn Observer) *Subscription {
	return d.observe(root, fn)
}

func (d *Doc) observe(root string, fn Observer) *Subscription {
	d.obsMu.Lock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = &observerEntry{root: root, fn: fn}
	d.obsMu.Unlock()
	return &Subscription{doc: d, id: id}
}

func (d *Doc) removeObserver(id uint64) {
	d.obsMu.Lock()
	delete(d.observers, id)
	d.obsMu.Unlock()
}

// dispatch fans events out to every matching observer. It must not be
// called while d.mu is held: an observer is free to open a new ReadTxn or
// Cancel its own subscription from inside the callback.
func (d *Doc) dispatch(txn *Txn, events []Event) {
	d.obsMu.RLock()
	entries := make([]*observerEntry, 0, len(d.observers))
	for _, e := range d.observers {
		entries = append(entries, e)
	}
	d.obsMu.RUnlock()

	for _, e := range entries {
		matched := events
		if e.root != "" {
			matched = nil
			for _, ev := range events {
				if ev.Root == e.root {
					matched = append(matched, ev)
				}
			}
		}
		if len(matched) > 0 {
			e.fn(txn, matched)
		}
	}
}
