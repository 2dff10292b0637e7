package crdt

// mapType is an LWW-register map: concurrent writes to the same key
// converge on the one with the winning ID (clock.go), independent of
// delivery order.
type mapType struct {
	entries map[string]*lww[any]
}

func newMapType() *mapType {
	return &mapType{entries: make(map[string]*lww[any])}
}

// set applies a write, returning the MapChange to emit if the visible
// value actually changed (nil if this write lost or was a no-op).
func (m *mapType) set(key string, id ID, value any) *MapChange {
	r, existed := m.entries[key]
	hadVisible := existed && !r.deleted
	var old any
	if hadVisible {
		old = r.value
	}
	if !existed {
		r = &lww[any]{}
		m.entries[key] = r
	}
	if !r.apply(id, value, false) {
		return nil
	}
	kind := Updated
	if !hadVisible {
		kind = Inserted
	}
	return &MapChange{Key: key, Kind: kind, OldValue: old, NewValue: value}
}

// remove tombstones a key, returning the MapChange to emit (nil if the key
// was already absent/deleted or the delete lost to a later write).
func (m *mapType) remove(key string, id ID) *MapChange {
	r, existed := m.entries[key]
	if !existed {
		r = &lww[any]{}
		m.entries[key] = r
	}
	wasVisible := existed && !r.deleted
	old := r.value
	if !r.apply(id, nil, true) {
		return nil
	}
	if !wasVisible {
		return nil
	}
	return &MapChange{Key: key, Kind: Removed, OldValue: old}
}

func (m *mapType) get(key string) (any, bool) {
	r, ok := m.entries[key]
	if !ok || r.deleted {
		return nil, false
	}
	return r.value, true
}

func (m *mapType) keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, r := range m.entries {
		if !r.deleted {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *mapType) len() int {
	n := 0
	for _, r := range m.entries {
		if !r.deleted {
			n++
		}
	}
	return n
}

// snapshot returns every visible key/value pair, for full-state encoding.
func (m *mapType) snapshot() map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, r := range m.entries {
		if !r.deleted {
			out[k] = r.value
		}
	}
	return out
}
