package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
)

type fakeSink struct {
	updates    []string
	awareness  int
	lastRemove []string
}

func (f *fakeSink) EnqueueUpdate(objectID string, origin collab.Origin, update []byte) {
	f.updates = append(f.updates, objectID)
}

func (f *fakeSink) EnqueueAwareness(objectID string, entries []collab.AwarenessEntry, removed []string) {
	f.awareness++
	f.lastRemove = removed
}

func TestSyncSink_ForwardsEveryCommittedUpdate(t *testing.T) {
	sink := &fakeSink{}
	syncSink := NewSyncSink(sink)

	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}
	c, err := collab.New(objectID, "client-1", 1, collab.EmptySource(), []collab.Plugin{syncSink})
	require.NoError(t, err)

	err = c.WriteTxn(collab.ClientOrigin(1, "dev"), func(txn *crdt.Txn) error {
		txn.MapSet("data", "k", "v")
		return nil
	})
	require.NoError(t, err)

	require.Len(t, sink.updates, 1)
	assert.Equal(t, objectID.String(), sink.updates[0])
}

func TestAwarenessBridge_ForwardsChangesAndExpiry(t *testing.T) {
	sink := &fakeSink{}
	objectID := collab.ObjectID{Type: collab.TypeUserAwareness, Value: "doc-1"}
	c, err := collab.New(objectID, "client-1", 1, collab.EmptySource(), nil)
	require.NoError(t, err)

	bridge := NewAwarenessBridge("doc-1", c.Awareness(), sink)
	defer bridge.Close()

	c.Awareness().Apply("peer-1", 1, []byte(`{"cursor":1}`))
	assert.Equal(t, 1, sink.awareness)

	c.Awareness().Expire(0)
	assert.Equal(t, 2, sink.awareness)
	assert.Contains(t, sink.lastRemove, "peer-1")
}
