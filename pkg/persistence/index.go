package persistence

import (
	"encoding/binary"

	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/kv"
)

// Index maps (uid, workspace_id, object_id) to a stable doc_handle,
// allocating a fresh handle from the store's monotonic handle counter
// the first time a given key is written (spec §4.2/§6: "installed on
// first write"). Handles come from kv.Txn.NextHandle rather than any
// clock-derived id: spec.md:69/189-191 requires doc_handle to uniquely
// and durably identify one document forever, and a 32-bit value
// truncated from a time-based id can collide across two unrelated
// documents created far apart in wall-clock time.
type Index struct {
	store kv.Store
}

func NewIndex(store kv.Store) *Index {
	return &Index{store: store}
}

// Lookup returns the existing doc_handle for (uid, workspaceID, objectID),
// or collaberr's NotFound sentinel if the key has never been written.
func (x *Index) Lookup(uid int64, workspaceID, objectID string) (uint32, error) {
	key := kv.DocIndexKey(uid, workspaceID, objectID)
	val, ok, err := x.store.Get(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, collaberr.NotFound
	}
	if len(val) != 4 {
		return 0, collaberr.Wrap(collaberr.KindStorage, "doc index row has wrong width", nil)
	}
	return binary.BigEndian.Uint32(val), nil
}

// EnsureHandle returns the existing handle for the key, or allocates and
// durably installs a new one if this is the first write. Safe under
// concurrent callers: the lookup-or-allocate-and-insert check runs
// inside one write transaction, so a race only ever wastes an unused
// handle value, never produces two handles for the same key.
func (x *Index) EnsureHandle(uid int64, workspaceID, objectID string) (handle uint32, created bool, err error) {
	key := kv.DocIndexKey(uid, workspaceID, objectID)
	txnErr := x.store.WithWriteTxn(func(txn kv.Txn) error {
		existing, ok, gerr := txn.Get(key)
		if gerr != nil {
			return gerr
		}
		if ok && len(existing) == 4 {
			handle = binary.BigEndian.Uint32(existing)
			return nil
		}
		h, herr := txn.NextHandle()
		if herr != nil {
			return herr
		}
		handle = h
		created = true
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, handle)
		_, ierr := txn.Insert(key, buf)
		return ierr
	})
	if txnErr != nil {
		return 0, false, txnErr
	}
	return handle, created, nil
}
