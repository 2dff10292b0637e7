package crdt

import "strings"

// OpKind tags the mutation an Op carries.
type OpKind int

const (
	OpMapSet OpKind = iota
	OpMapDelete
	OpArrayInsert
	OpArrayDelete
	OpTextInsert
	OpTextDelete
	OpTextFormat
)

// TextCharOp is one rune of a TextInsert op, carrying the id it was
// assigned at creation so replay reproduces the exact same RGA chain
// regardless of which replica (or how much later) applies it.
type TextCharOp struct {
	ID ID   `json:"id"`
	Ch rune `json:"ch"`
}

// Op is a single CRDT mutation, the unit both a live transaction and a
// replayed update/snapshot are built from (spec §6: updates are logged as
// a stream of such ops, snapshots are a compacted replay of the same
// stream).
type Op struct {
	Root     string         `json:"root"`
	Kind     OpKind         `json:"kind"`
	ID       ID             `json:"id"`
	Origin   ID             `json:"origin,omitempty"`
	Key      string         `json:"key,omitempty"`
	Value    any            `json:"value,omitempty"`
	TargetID ID             `json:"targetId,omitempty"`
	IDs      []ID           `json:"ids,omitempty"`
	Chars    []TextCharOp   `json:"chars,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// maxClock returns the highest Lamport clock carried anywhere in the op,
// used to advance a receiving replica's clock past it (clock.go's Lamport
// receive rule).
func (op Op) maxClock() uint64 {
	max := op.ID.Clock
	if op.Origin.Clock > max {
		max = op.Origin.Clock
	}
	if op.TargetID.Clock > max {
		max = op.TargetID.Clock
	}
	for _, id := range op.IDs {
		if id.Clock > max {
			max = id.Clock
		}
	}
	for _, c := range op.Chars {
		if c.ID.Clock > max {
			max = c.ID.Clock
		}
	}
	return max
}

func rootKindForOp(kind OpKind) rootKind {
	switch kind {
	case OpMapSet, OpMapDelete:
		return RootMap
	case OpArrayInsert, OpArrayDelete:
		return RootArray
	default:
		return RootText
	}
}

// applyOp is the single place CRDT mutations actually happen: a locally
// generated op and a remotely received one are applied through exactly
// this path, so the two can never drift apart. Callers must hold d.mu.
func (d *Doc) applyOp(op Op) *Event {
	rt := d.ensureRootLocked(op.Root, rootKindForOp(op.Kind))

	switch op.Kind {
	case OpMapSet:
		ch := rt.m.set(op.Key, op.ID, op.Value)
		if ch == nil {
			return nil
		}
		return &Event{Kind: EventMap, Root: op.Root, Map: []MapChange{*ch}}

	case OpMapDelete:
		ch := rt.m.remove(op.Key, op.ID)
		if ch == nil {
			return nil
		}
		return &Event{Kind: EventMap, Root: op.Root, Map: []MapChange{*ch}}

	case OpArrayInsert:
		rt.a.insert(op.ID, op.Origin, op.Value)
		return &Event{Kind: EventArray, Root: op.Root, Array: []ArrayDelta{{Kind: Added, Len: 1, Values: []any{op.Value}}}}

	case OpArrayDelete:
		if !rt.a.remove(op.TargetID) {
			return nil
		}
		return &Event{Kind: EventArray, Root: op.Root, Array: []ArrayDelta{{Kind: RemovedRun, Len: 1}}}

	case OpTextInsert:
		origin := op.Origin
		var sb strings.Builder
		for _, c := range op.Chars {
			rt.t.insertOne(c.ID, origin, c.Ch, op.Attrs)
			origin = c.ID
			sb.WriteRune(c.Ch)
		}
		return &Event{Kind: EventText, Root: op.Root, Text: []TextDelta{{Kind: Added, Insert: sb.String(), Attributes: op.Attrs}}}

	case OpTextDelete:
		removed := rt.t.removeIDs(op.IDs)
		if len(removed) == 0 {
			return nil
		}
		return &Event{Kind: EventText, Root: op.Root, Text: []TextDelta{{Kind: RemovedRun, Len: len(removed)}}}

	case OpTextFormat:
		rt.t.formatIDs(op.ID, op.IDs, op.Attrs)
		return &Event{Kind: EventText, Root: op.Root, Text: []TextDelta{{Kind: Retain, Len: len(op.IDs), Attributes: op.Attrs}}}

	default:
		return nil
	}
}

// exportOpsLocked replays the current structural state (including
// tombstones) as the minimal op stream that reconstructs it exactly,
// which is how a full doc snapshot is encoded (encode.go). Callers must
// hold d.mu.
func (d *Doc) exportOpsLocked() []Op {
	var ops []Op
	for name, rt := range d.roots {
		switch rt.kind {
		case RootMap:
			for key, r := range rt.m.entries {
				if r.deleted {
					ops = append(ops, Op{Root: name, Kind: OpMapDelete, ID: r.id, Key: key})
				} else {
					ops = append(ops, Op{Root: name, Kind: OpMapSet, ID: r.id, Key: key, Value: r.value})
				}
			}
		case RootArray:
			for _, it := range rt.a.items {
				ops = append(ops, Op{Root: name, Kind: OpArrayInsert, ID: it.id, Origin: it.origin, Value: it.value})
				if it.deleted {
					ops = append(ops, Op{Root: name, Kind: OpArrayDelete, ID: it.id, TargetID: it.id})
				}
			}
		case RootText:
			for _, it := range rt.t.items {
				ops = append(ops, Op{
					Root: name, Kind: OpTextInsert, Origin: it.origin,
					Chars: []TextCharOp{{ID: it.id, Ch: it.ch}},
				})
				if it.deleted {
					ops = append(ops, Op{Root: name, Kind: OpTextDelete, ID: it.id, IDs: []ID{it.id}})
				}
				for key, r := range it.attrs {
					ops = append(ops, Op{
						Root: name, Kind: OpTextFormat, ID: r.id, IDs: []ID{it.id},
						Attrs: map[string]any{key: r.value},
					})
				}
			}
		}
	}
	return ops
}
