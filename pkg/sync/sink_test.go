package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/sync/wire"
)

func encodedUpdate(t *testing.T, ops ...crdt.Op) []byte {
	t.Helper()
	b, err := crdt.EncodeUpdate(ops)
	require.NoError(t, err)
	return b
}

func TestSink_DequeueReturnsFramesInOrder(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: -1})
	s.Enqueue(wire.Frame{Kind: wire.KindInit, ObjectID: "a"})
	s.Enqueue(wire.Frame{Kind: wire.KindAck, ObjectID: "b"})

	ctx := context.Background()
	f1, _, ok := s.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", f1.ObjectID)

	f2, _, ok := s.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", f2.ObjectID)
}

func TestSink_EnqueueUpdateCoalescesWithinMergeWindow(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: time.Minute})
	origin := collab.ClientOrigin(1, "dev-a")

	s.EnqueueUpdate("doc-1", origin, encodedUpdate(t, crdt.Op{Kind: crdt.OpMapSet, Root: "r", Key: "k1"}))
	s.EnqueueUpdate("doc-1", origin, encodedUpdate(t, crdt.Op{Kind: crdt.OpMapSet, Root: "r", Key: "k2"}))

	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	require.Equal(t, 1, n, "consecutive unsent updates for the same object should coalesce into one frame")

	ctx := context.Background()
	f, _, ok := s.Dequeue(ctx)
	require.True(t, ok)

	ops, err := crdt.DecodeUpdate(f.Body)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestSink_EnqueueUpdateDoesNotCoalesceAcrossObjects(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: time.Minute})
	origin := collab.ClientOrigin(1, "dev-a")

	s.EnqueueUpdate("doc-1", origin, encodedUpdate(t, crdt.Op{Kind: crdt.OpMapSet, Root: "r", Key: "k1"}))
	s.EnqueueUpdate("doc-2", origin, encodedUpdate(t, crdt.Op{Kind: crdt.OpMapSet, Root: "r", Key: "k2"}))

	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	assert.Equal(t, 2, n)
}

func TestSink_EnqueueUpdateDoesNotCoalesceAfterSend(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: time.Minute})
	origin := collab.ClientOrigin(1, "dev-a")

	s.EnqueueUpdate("doc-1", origin, encodedUpdate(t, crdt.Op{Kind: crdt.OpMapSet, Root: "r", Key: "k1"}))
	_, seq, ok := s.Dequeue(context.Background())
	require.True(t, ok)

	s.EnqueueUpdate("doc-1", origin, encodedUpdate(t, crdt.Op{Kind: crdt.OpMapSet, Root: "r", Key: "k2"}))

	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	assert.Equal(t, 2, n, "a frame already dequeued must not be mutated by a later enqueue")

	s.Ack(seq)
	s.mu.Lock()
	n = len(s.pending)
	s.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestSink_ResetForReconnectRedeliversInOrder(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: -1})
	s.Enqueue(wire.Frame{Kind: wire.KindInit, ObjectID: "a"})
	s.Enqueue(wire.Frame{Kind: wire.KindInit, ObjectID: "b"})

	ctx := context.Background()
	_, _, ok := s.Dequeue(ctx)
	require.True(t, ok)

	s.ResetForReconnect()

	f, _, ok := s.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", f.ObjectID)
}

func TestSink_ReadyReflectsCapacity(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 1, MergeWindow: -1})
	assert.True(t, s.Ready())
	s.Enqueue(wire.Frame{Kind: wire.KindInit, ObjectID: "a"})
	assert.False(t, s.Ready())
}

func TestSink_DropStaleRemovesOldFrames(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: -1, RetryHorizon: time.Millisecond})
	s.Enqueue(wire.Frame{Kind: wire.KindInit, ObjectID: "a"})
	time.Sleep(5 * time.Millisecond)

	dropped := s.DropStale()
	assert.Equal(t, 1, dropped)
	assert.True(t, s.Ready())
}

func TestSink_DequeueBlocksUntilEnqueueOrCancel(t *testing.T) {
	s := NewSink("conn-1", SinkConfig{Capacity: 10, MergeWindow: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, ok := s.Dequeue(ctx)
	assert.False(t, ok)
}
