package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/kv"
)

func newTestEngine(cfg Config) (*Engine, *kv.MemStore) {
	store := kv.NewMemStore()
	return NewEngine(store, cfg), store
}

func appendDocWrite(t *testing.T, engine *Engine, handle uint32, doc *crdt.Doc, key, value string) {
	t.Helper()
	err := doc.WriteTxn(func(txn *crdt.Txn) error {
		txn.MapSet("data", key, value)
		return nil
	})
	require.NoError(t, err)
}

func TestCompactor_CompactsAtThreshold(t *testing.T) {
	cfg := Config{EnableSnapshot: true, SnapshotPerUpdate: 3}
	engine, _ := newTestEngine(cfg)

	doc := crdt.NewDoc(1)
	var handle uint32 = 42

	for i := 0; i < 3; i++ {
		var ops []crdt.Op
		err := doc.WriteTxn(func(txn *crdt.Txn) error {
			txn.MapSet("data", "k", i)
			ops = txn.Ops()
			return nil
		})
		require.NoError(t, err)
		data, eerr := crdt.EncodeUpdate(ops)
		require.NoError(t, eerr)
		_, aerr := engine.AppendUpdate(handle, "document", data)
		require.NoError(t, aerr)
	}

	snap, ok, err := engine.Snapshots.Latest(handle)
	require.NoError(t, err)
	require.True(t, ok, "compaction should have produced a snapshot at the third update")
	assert.Equal(t, uint64(3), snap.Clock)
	assert.NotEmpty(t, snap.Description)
	assert.NotEmpty(t, snap.Bytes)

	remaining, err := engine.Updates.ReadSince(handle, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "updates below the snapshot clock should be trimmed, keeping only the row at the snapshot clock")
}

func TestCompactor_SkipsBelowThreshold(t *testing.T) {
	cfg := Config{EnableSnapshot: true, SnapshotPerUpdate: 5}
	engine, _ := newTestEngine(cfg)

	var handle uint32 = 1
	doc := crdt.NewDoc(1)
	for i := 0; i < 2; i++ {
		var ops []crdt.Op
		err := doc.WriteTxn(func(txn *crdt.Txn) error {
			txn.MapSet("data", "k", i)
			ops = txn.Ops()
			return nil
		})
		require.NoError(t, err)
		data, eerr := crdt.EncodeUpdate(ops)
		require.NoError(t, eerr)
		_, aerr := engine.AppendUpdate(handle, "document", data)
		require.NoError(t, aerr)
	}

	_, ok, err := engine.Snapshots.Latest(handle)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_LoadReconstructsFromSnapshotAndLog(t *testing.T) {
	cfg := Config{EnableSnapshot: true, SnapshotPerUpdate: 2}
	engine, _ := newTestEngine(cfg)

	var handle uint32 = 5
	doc := crdt.NewDoc(1)

	write := func(key string, value any) {
		var ops []crdt.Op
		err := doc.WriteTxn(func(txn *crdt.Txn) error {
			txn.MapSet("data", key, value)
			ops = txn.Ops()
			return nil
		})
		require.NoError(t, err)
		data, eerr := crdt.EncodeUpdate(ops)
		require.NoError(t, eerr)
		_, aerr := engine.AppendUpdate(handle, "document", data)
		require.NoError(t, aerr)
	}

	write("a", 1)
	write("b", 2) // triggers a snapshot at clock 2
	write("c", 3) // stays in the log

	loaded, err := engine.Load(handle, 99)
	require.NoError(t, err)

	var vals map[string]any
	err = loaded.ReadTxn(func(txn *crdt.Txn) error {
		vals = txn.MapSnapshot("data")
		return nil
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, vals["a"])
	assert.EqualValues(t, 2, vals["b"])
	assert.EqualValues(t, 3, vals["c"])
}

func TestCompactor_DisabledNeverCompacts(t *testing.T) {
	cfg := Config{EnableSnapshot: false, SnapshotPerUpdate: 1}
	engine, _ := newTestEngine(cfg)

	var handle uint32 = 1
	doc := crdt.NewDoc(1)
	var ops []crdt.Op
	err := doc.WriteTxn(func(txn *crdt.Txn) error {
		txn.MapSet("data", "k", 1)
		ops = txn.Ops()
		return nil
	})
	require.NoError(t, err)
	data, eerr := crdt.EncodeUpdate(ops)
	require.NoError(t, eerr)
	_, aerr := engine.AppendUpdate(handle, "document", data)
	require.NoError(t, aerr)

	_, ok, err := engine.Snapshots.Latest(handle)
	require.NoError(t, err)
	assert.False(t, ok)
}
