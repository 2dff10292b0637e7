package crdt

import "reflect"

// lww is a last-writer-wins register: the value written by the highest ID
// wins, regardless of the order the writes are observed in. Both the map
// type's per-key values and the text type's per-item attributes are built
// on this.
type lww[T any] struct {
	id      ID
	value   T
	deleted bool
	set     bool
}

// apply writes value under id if id wins over whatever is currently there.
// Returns whether the register's externally-visible value changed, so
// callers can suppress no-op events (spec §4.6: "no change is fired for
// no-op writes").
func (r *lww[T]) apply(id ID, value T, deleted bool) (changed bool) {
	if r.set && !r.id.Less(id) {
		// current id already >= incoming id: incoming does not win.
		return false
	}
	before, beforeDeleted := r.value, r.deleted
	r.id, r.value, r.deleted, r.set = id, value, deleted, true
	if beforeDeleted && deleted {
		return false
	}
	return beforeDeleted != deleted || !valueEqual(before, value)
}

func valueEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
