package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withNowFunc(t *testing.T, fn func() int64) {
	t.Helper()
	prev := nowFunc
	nowFunc = fn
	t.Cleanup(func() { nowFunc = prev })
}

func TestGenerator_MonotonicAndUnique(t *testing.T) {
	g := New(1)
	seen := make(map[int64]bool)
	var last int64
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		require.Greater(t, id, last)
		last = id
	}
}

func TestGenerator_SequenceResetsOnNextMillisecond(t *testing.T) {
	g := New(2)
	tick := int64(1000)
	withNowFunc(t, func() int64 { return tick })

	for i := 0; i <= maxSequence; i++ {
		g.Next()
	}
	// every sequence value of this millisecond is now used (the counter
	// sits at maxSequence); once the clock advances, the next call must
	// reset it to 0.
	tick = 1001
	id := g.Next()
	_, _, seq := Decompose(id)
	assert.Equal(t, int64(0), seq)
}

func TestGenerator_ClockRollbackPanics(t *testing.T) {
	g := New(3)
	withNowFunc(t, func() int64 { return 5000 })
	g.Next()
	nowFunc = func() int64 { return 4000 }
	assert.Panics(t, func() { g.Next() })
}

func TestDecompose_RoundTripsNode(t *testing.T) {
	g := New(7)
	id := g.Next()
	_, node, _ := Decompose(id)
	assert.Equal(t, int64(7), node)
}

func TestDecompose_TimestampNearNow(t *testing.T) {
	g := New(0)
	id := g.Next()
	ts, _, _ := Decompose(id)
	assert.WithinDuration(t, time.Now(), ts, 2*time.Second)
}
