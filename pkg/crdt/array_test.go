package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArrayType_InsertOrdering(t *testing.T) {
	a := newArrayType()
	a.insert(ID{Clock: 1, Replica: 1}, Zero, "a")
	a.insert(ID{Clock: 2, Replica: 1}, ID{Clock: 1, Replica: 1}, "b")
	a.insert(ID{Clock: 3, Replica: 1}, ID{Clock: 1, Replica: 1}, "c")

	// two concurrent inserts after "a": id 3 beats id 2, so "c" sits ahead
	// of "b" despite being inserted second.
	assert.Equal(t, []any{"a", "c", "b"}, a.values())
}

func TestArrayType_RemoveIsIdempotent(t *testing.T) {
	a := newArrayType()
	id := ID{Clock: 1, Replica: 1}
	a.insert(id, Zero, "a")
	assert.True(t, a.remove(id))
	assert.False(t, a.remove(id))
	assert.Empty(t, a.values())
}

func TestArrayType_IdAtVisibleIndexSkipsTombstones(t *testing.T) {
	a := newArrayType()
	id1 := ID{Clock: 1, Replica: 1}
	id2 := ID{Clock: 2, Replica: 1}
	id3 := ID{Clock: 3, Replica: 1}
	a.insert(id1, Zero, "a")
	a.insert(id2, id1, "b")
	a.insert(id3, id2, "c")
	a.remove(id2)

	got, ok := a.idAtVisibleIndex(1)
	assert.True(t, ok)
	assert.Equal(t, id3, got)

	_, ok = a.idAtVisibleIndex(2)
	assert.False(t, ok)
}
