package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLWW_HigherClockWins(t *testing.T) {
	var r lww[string]
	assert.True(t, r.apply(ID{Clock: 1, Replica: 1}, "first", false))
	assert.True(t, r.apply(ID{Clock: 2, Replica: 1}, "second", false))
	assert.Equal(t, "second", r.value)

	// a lower-clock write arriving late must not overwrite the winner.
	assert.False(t, r.apply(ID{Clock: 1, Replica: 2}, "late", false))
	assert.Equal(t, "second", r.value)
}

func TestLWW_ClockTieBreaksOnReplica(t *testing.T) {
	var r lww[string]
	assert.True(t, r.apply(ID{Clock: 5, Replica: 1}, "from-1", false))
	assert.True(t, r.apply(ID{Clock: 5, Replica: 2}, "from-2", false))
	assert.Equal(t, "from-2", r.value)
}

func TestLWW_NoOpWriteReportsNoChange(t *testing.T) {
	var r lww[string]
	assert.True(t, r.apply(ID{Clock: 1, Replica: 1}, "x", false))
	assert.False(t, r.apply(ID{Clock: 2, Replica: 1}, "x", false))
}

func TestLWW_DeleteThenDeleteIsNoChange(t *testing.T) {
	var r lww[string]
	assert.True(t, r.apply(ID{Clock: 1, Replica: 1}, "x", false))
	assert.True(t, r.apply(ID{Clock: 2, Replica: 1}, "", true))
	assert.False(t, r.apply(ID{Clock: 3, Replica: 1}, "", true))
}
