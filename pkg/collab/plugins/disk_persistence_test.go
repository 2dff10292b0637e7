package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/kv"
	"github.com/collabrt/collab/pkg/persistence"
)

func TestDiskPersistence_RoundTripsThroughCollab(t *testing.T) {
	store := kv.NewMemStore()
	cfg := persistence.Config{EnableSnapshot: true, SnapshotPerUpdate: 2}
	engine := persistence.NewEngine(store, cfg)

	var handle uint32 = 1
	disk := NewDiskPersistence(engine, handle, "document")
	gen := NewSnapshotGenerator(engine, handle, "document", 2)

	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}
	c, err := collab.New(objectID, "client-1", 1, collab.EmptySource(), []collab.Plugin{disk, gen})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v := i
		werr := c.WriteTxn(collab.ClientOrigin(10, "device-1"), func(txn *crdt.Txn) error {
			txn.MapSet("data", "k", v)
			return nil
		})
		require.NoError(t, werr)
	}

	n, err := engine.Updates.Count(handle, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	snap, ok, err := engine.Snapshots.Latest(handle)
	require.NoError(t, err)
	assert.True(t, ok, "snapshot generator should have compacted after the second transaction")
	assert.Equal(t, uint64(2), snap.Clock)

	loaded, err := engine.Load(handle, 99)
	require.NoError(t, err)
	var val any
	err = loaded.ReadTxn(func(txn *crdt.Txn) error {
		v, _ := txn.MapGet("data", "k")
		val = v
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, val)
}
