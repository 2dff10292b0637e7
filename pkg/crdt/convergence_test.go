package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConvergence_ConcurrentArrayInsertsSameOrigin verifies two replicas
// that concurrently insert at the same position converge on the same
// final order regardless of which update each applies first, the core
// RGA guarantee array.go documents.
func TestConvergence_ConcurrentArrayInsertsSameOrigin(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	require.NoError(t, a.WriteTxn(func(txn *Txn) error {
		txn.ArrayPush("items", "base")
		return nil
	}))

	// replicate the base insert into b before diverging.
	b.ApplyUpdate(exportAllOps(a))

	var opsA, opsB []Op
	require.NoError(t, a.WriteTxn(func(txn *Txn) error {
		txn.ArrayInsert("items", 1, "from-a")
		opsA = txn.Ops()
		return nil
	}))
	require.NoError(t, b.WriteTxn(func(txn *Txn) error {
		txn.ArrayInsert("items", 1, "from-b")
		opsB = txn.Ops()
		return nil
	}))

	// apply in opposite orders on each side.
	a.ApplyUpdate(opsB)
	b.ApplyUpdate(opsA)

	var valuesA, valuesB []any
	require.NoError(t, a.ReadTxn(func(txn *Txn) error {
		valuesA = txn.ArrayValues("items")
		return nil
	}))
	require.NoError(t, b.ReadTxn(func(txn *Txn) error {
		valuesB = txn.ArrayValues("items")
		return nil
	}))
	assert.Equal(t, valuesA, valuesB)
	assert.Len(t, valuesA, 3)
}

func TestConvergence_ConcurrentMapWritesPickSameWinner(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(5)

	var opsA, opsB []Op
	require.NoError(t, a.WriteTxn(func(txn *Txn) error {
		txn.MapSet("meta", "title", "a-wins?")
		opsA = txn.Ops()
		return nil
	}))
	require.NoError(t, b.WriteTxn(func(txn *Txn) error {
		txn.MapSet("meta", "title", "b-wins?")
		opsB = txn.Ops()
		return nil
	}))

	a.ApplyUpdate(opsB)
	b.ApplyUpdate(opsA)

	var titleA, titleB any
	require.NoError(t, a.ReadTxn(func(txn *Txn) error {
		titleA, _ = txn.MapGet("meta", "title")
		return nil
	}))
	require.NoError(t, b.ReadTxn(func(txn *Txn) error {
		titleB, _ = txn.MapGet("meta", "title")
		return nil
	}))
	assert.Equal(t, titleA, titleB)
}

func exportAllOps(doc *Doc) []Op {
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.exportOpsLocked()
}
