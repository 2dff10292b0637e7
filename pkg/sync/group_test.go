package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
)

func TestRegistry_GetOrCreateReturnsSameGroupTwice(t *testing.T) {
	r := NewRegistry(time.Minute)
	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}

	g1, err := r.GetOrCreate(objectID, "server", 1, collab.EmptySource())
	require.NoError(t, err)
	g2, err := r.GetOrCreate(objectID, "server", 1, collab.EmptySource())
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.Equal(t, 1, r.Len())
}

func TestGroup_BroadcastsToOtherSubscribersNotSender(t *testing.T) {
	r := NewRegistry(time.Minute)
	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}
	g, err := r.GetOrCreate(objectID, "server", 1, collab.EmptySource())
	require.NoError(t, err)

	senderOrigin := collab.ClientOrigin(1, "dev-a")
	otherOrigin := collab.ClientOrigin(2, "dev-b")

	senderSink := NewSink("sender", SinkConfig{Capacity: 10})
	otherSink := NewSink("other", SinkConfig{Capacity: 10})
	g.Subscribe("sender", senderOrigin, senderSink)
	g.Subscribe("other", otherOrigin, otherSink)

	require.NoError(t, g.Collab().WriteTxn(senderOrigin, func(txn *crdt.Txn) error {
		txn.MapSet("fields", "k", "v")
		return nil
	}))

	senderSink.mu.Lock()
	senderPending := len(senderSink.pending)
	senderSink.mu.Unlock()
	assert.Equal(t, 0, senderPending, "the writer should not receive its own update back")

	otherSink.mu.Lock()
	otherPending := len(otherSink.pending)
	otherSink.mu.Unlock()
	assert.Equal(t, 1, otherPending)
}

func TestGroup_UnsubscribeMarksEmpty(t *testing.T) {
	r := NewRegistry(time.Minute)
	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}
	g, err := r.GetOrCreate(objectID, "server", 1, collab.EmptySource())
	require.NoError(t, err)

	sink := NewSink("s1", SinkConfig{Capacity: 10})
	g.Subscribe("s1", collab.ClientOrigin(1, "dev-a"), sink)
	assert.Equal(t, 1, g.subscriberCount())

	g.Unsubscribe("s1")
	assert.Equal(t, 0, g.subscriberCount())
	_, empty := g.idleSince()
	assert.True(t, empty)
}

func TestRegistry_SweepEvictsIdleGroups(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}
	_, err := r.GetOrCreate(objectID, "server", 1, collab.EmptySource())
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	time.Sleep(20 * time.Millisecond)
	evicted := r.Sweep(time.Now())
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, r.Len())
}
