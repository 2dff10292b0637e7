package persistence

import (
	"github.com/collabrt/collab/pkg/kv"
	"github.com/collabrt/collab/pkg/log"
	"github.com/collabrt/collab/pkg/metrics"
)

// Engine ties the update log, snapshot store, and compactor to one
// handle's worth of storage. AppendUpdate triggers compaction itself when
// the threshold is crossed; collab/plugins.DiskPersistence instead writes
// through Updates.Append, which never compacts, and leaves compaction to
// SnapshotGenerator's calls to Compact.
type Engine struct {
	store     kv.Store
	Updates   *UpdateLog
	Snapshots *SnapshotStore
	Compactor *Compactor
}

func NewEngine(store kv.Store, cfg Config) *Engine {
	updates := NewUpdateLog(store)
	snapshots := NewSnapshotStore(store)
	return &Engine{
		store:     store,
		Updates:   updates,
		Snapshots: snapshots,
		Compactor: NewCompactor(cfg, snapshots, updates),
	}
}

// AppendUpdate durably stores data for handle and, if this append crosses
// the configured snapshot threshold, compacts — all under one KV write
// transaction: allocate the next clock, insert (handle, clock) -> data,
// and (if the number of rows newer than the latest snapshot is now a
// multiple of SnapshotPerUpdate) compact, per
// spec.md's single-write-txn append invariant. Compaction failures are
// logged and swallowed the same way MaybeCompact swallows them: a missed
// compaction never loses data or fails the append, it only means the log
// grows a little longer before the next attempt. Callers that drive
// compaction on their own schedule (e.g. a plugin counting transactions
// rather than log rows) should call Updates.Append directly and Compact
// explicitly instead of this convenience wrapper.
func (e *Engine) AppendUpdate(handle uint32, collabType string, data []byte) (uint64, error) {
	var clock uint64
	err := e.store.WithWriteTxn(func(txn kv.Txn) error {
		c, aerr := e.Updates.appendInTxn(txn, handle, data)
		if aerr != nil {
			return aerr
		}
		clock = c

		if !e.Compactor.cfg.EnableSnapshot {
			return nil
		}
		base, hasBase, serr := e.Snapshots.latestInTxn(txn, handle)
		if serr != nil {
			return nil
		}
		afterClock := uint64(0)
		if hasBase {
			afterClock = base.Clock
		}
		count, cerr := e.Updates.countInTxn(txn, handle, afterClock)
		if cerr != nil {
			// Counting failure never fails the append; compaction is
			// just skipped this round, same as MaybeCompact's contract.
			return nil
		}
		if uint64(count) == 0 || uint64(count)%uint64(e.Compactor.cfg.SnapshotPerUpdate) != 0 {
			return nil
		}
		if cerr := e.Compactor.compactInTxn(txn, handle, collabType); cerr != nil {
			metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
			log.WithComponent("persistence").Error().
				Uint32("doc_handle", handle).
				Err(cerr).
				Msg("snapshot compaction failed")
			return nil
		}
		metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.UpdateLogWrites.WithLabelValues(collabType).Inc()
	metrics.UpdateLogBytes.Add(float64(len(data)))
	return clock, nil
}

// Compact forces a compaction pass for handle regardless of the
// configured threshold, logging and swallowing failure the same way
// MaybeCompact does.
func (e *Engine) Compact(handle uint32, collabType string) {
	e.Compactor.force(handle, collabType)
}
