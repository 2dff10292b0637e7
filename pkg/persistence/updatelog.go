// Package persistence implements the update log, snapshot compaction,
// and document index the Collab runtime is durably backed by (spec §4.2,
// §6): every committed write transaction appends its encoded update to a
// per-handle ordered log, compacted into periodic snapshots.
package persistence

import (
	"github.com/collabrt/collab/pkg/kv"
	"github.com/collabrt/collab/pkg/metrics"
)

// UpdateLog appends and reads the per-handle ordered update stream.
type UpdateLog struct {
	store kv.Store
}

func NewUpdateLog(store kv.Store) *UpdateLog {
	return &UpdateLog{store: store}
}

// Append allocates the next clock for handle and durably stores data
// under it, returning the assigned clock. Allocation and insert happen
// inside one write transaction so two concurrent appends can never
// collide on the same clock. collabType is only used to label metrics.
func (l *UpdateLog) Append(handle uint32, collabType string, data []byte) (clock uint64, err error) {
	appendErr := l.store.WithWriteTxn(func(txn kv.Txn) error {
		c, aerr := l.appendInTxn(txn, handle, data)
		clock = c
		return aerr
	})
	if appendErr != nil {
		return 0, appendErr
	}
	metrics.UpdateLogWrites.WithLabelValues(collabType).Inc()
	metrics.UpdateLogBytes.Add(float64(len(data)))
	return clock, nil
}

// appendInTxn is Append's body, callable against a write transaction a
// caller already holds open. Engine.AppendUpdate uses this to fold the
// update insert and threshold-gated compaction into one shared
// WithWriteTxn (spec.md's single-write-txn append invariant).
func (l *UpdateLog) appendInTxn(txn kv.Txn, handle uint32, data []byte) (uint64, error) {
	clock, aerr := nextClockLocked(txn, handle)
	if aerr != nil {
		return 0, aerr
	}
	if _, ierr := txn.Insert(kv.DocUpdateKey(handle, clock), data); ierr != nil {
		return 0, ierr
	}
	return clock, nil
}

// nextClockLocked returns the clock one past the last entry currently
// stored for handle (1 if the handle has no entries yet). Callers must
// be inside a write transaction on l.store.
func nextClockLocked(txn kv.Txn, handle uint32) (uint64, error) {
	entry, ok, err := txn.NextBackEntry(kv.DocUpdateRangeEnd(handle))
	if err != nil {
		return 0, err
	}
	if !ok || !sameHandlePrefix(entry.Key, kv.DocUpdateRangeStart(handle)) {
		return 1, nil
	}
	last := decodeTrailingClock(entry.Key)
	return last + 1, nil
}

func sameHandlePrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

func decodeTrailingClock(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	tail := key[len(key)-8:]
	var v uint64
	for _, b := range tail {
		v = v<<8 | uint64(b)
	}
	return v
}

// Count returns the number of update-log entries for handle with clock
// strictly greater than afterClock (afterClock=0 counts everything).
func (l *UpdateLog) Count(handle uint32, afterClock uint64) (int, error) {
	return l.countInTxn(l.store, handle, afterClock)
}

// countInTxn is Count's body against an already-open transaction (or, via
// Count, directly against the store — kv.Store embeds kv.Txn).
func (l *UpdateLog) countInTxn(txn kv.Txn, handle uint32, afterClock uint64) (int, error) {
	n := 0
	from := kv.DocUpdateKey(handle, afterClock+1)
	err := txn.IterRange(from, kv.DocUpdateRangeEnd(handle), func(kv.Entry) error {
		n++
		return nil
	})
	return n, err
}

// ReadSince returns every update for handle with clock strictly greater
// than afterClock, in ascending clock order — the replay range used both
// by a fresh doc load (afterClock = snapshot's clock) and by compaction
// (afterClock = previous snapshot's clock).
func (l *UpdateLog) ReadSince(handle uint32, afterClock uint64) ([][]byte, error) {
	return l.readSinceInTxn(l.store, handle, afterClock)
}

// readSinceInTxn is ReadSince's body against an already-open transaction.
func (l *UpdateLog) readSinceInTxn(txn kv.Txn, handle uint32, afterClock uint64) ([][]byte, error) {
	var out [][]byte
	from := kv.DocUpdateKey(handle, afterClock+1)
	err := txn.IterRange(from, kv.DocUpdateRangeEnd(handle), func(e kv.Entry) error {
		out = append(out, e.Value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TrimBelow removes every update for handle with clock strictly less
// than clock, the optional garbage-collection step after a successful
// snapshot (spec §4.2: "Optionally garbage-collect log entries strictly
// below the snapshot").
func (l *UpdateLog) TrimBelow(txn kv.Txn, handle uint32, clock uint64) error {
	if clock == 0 {
		return nil
	}
	from := kv.DocUpdateRangeStart(handle)
	to := kv.DocUpdateKey(handle, clock-1)
	return txn.RemoveRange(from, to)
}
