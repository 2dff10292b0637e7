package persistence

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/kv"
	"github.com/collabrt/collab/pkg/log"
	"github.com/collabrt/collab/pkg/metrics"
)

// SnapshotStore reads and writes DOC_SNAPSHOT rows. Each compaction adds
// a row keyed by the clock the snapshot covers up to (inclusive); earlier
// snapshot rows are not removed, and "latest snapshot" is always the
// highest key under the handle's prefix.
type SnapshotStore struct {
	store kv.Store
}

func NewSnapshotStore(store kv.Store) *SnapshotStore {
	return &SnapshotStore{store: store}
}

// Snapshot is a decoded DOC_SNAPSHOT row: the encoded doc state, the
// clock it was compacted up to, and the free-text description spec.md
// §3 stores alongside every snapshot.
type Snapshot struct {
	Clock       uint64
	Description string
	Bytes       []byte
}

// Latest returns the most recent snapshot for handle, if any.
func (s *SnapshotStore) Latest(handle uint32) (Snapshot, bool, error) {
	return s.latestInTxn(s.store, handle)
}

// latestInTxn is Latest's body against an already-open transaction (or,
// via Latest, directly against the store — kv.Store embeds kv.Txn).
// Compactor.compactInTxn uses this to read the base snapshot inside the
// same write transaction it compacts under.
func (s *SnapshotStore) latestInTxn(txn kv.Txn, handle uint32) (Snapshot, bool, error) {
	entry, ok, err := txn.NextBackEntry(kv.DocSnapshotRangeEnd(handle))
	if err != nil {
		return Snapshot{}, false, err
	}
	if !ok || !sameHandlePrefix(entry.Key, kv.DocSnapshotRangeStart(handle)) {
		return Snapshot{}, false, nil
	}
	clock := decodeTrailingClock(entry.Key)
	description, state, err := decodeSnapshotRow(entry.Value)
	if err != nil {
		return Snapshot{}, false, err
	}
	return Snapshot{Clock: clock, Description: description, Bytes: state}, true, nil
}

// encodeSnapshotRow lays out a DOC_SNAPSHOT value as spec.md:191 defines
// it: a u16 BE description length, the description's utf8 bytes, then
// the raw encoded doc state.
func encodeSnapshotRow(description string, state []byte) ([]byte, error) {
	if len(description) > 0xFFFF {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "snapshot description too long", nil)
	}
	row := make([]byte, 2+len(description)+len(state))
	binary.BigEndian.PutUint16(row[0:2], uint16(len(description)))
	copy(row[2:2+len(description)], description)
	copy(row[2+len(description):], state)
	return row, nil
}

// decodeSnapshotRow splits a DOC_SNAPSHOT value back into its
// description and state bytes.
func decodeSnapshotRow(row []byte) (description string, state []byte, err error) {
	if len(row) < 2 {
		return "", nil, collaberr.Wrap(collaberr.KindStorage, "snapshot row shorter than its length prefix", nil)
	}
	descLen := int(binary.BigEndian.Uint16(row[0:2]))
	if len(row) < 2+descLen {
		return "", nil, collaberr.Wrap(collaberr.KindStorage, "snapshot row truncated before its description ended", nil)
	}
	description = string(row[2 : 2+descLen])
	state = row[2+descLen:]
	return description, state, nil
}

// Config controls whether and how often snapshot compaction runs (spec
// §4.2).
type Config struct {
	EnableSnapshot    bool
	SnapshotPerUpdate uint32
}

func DefaultConfig() Config {
	return Config{EnableSnapshot: true, SnapshotPerUpdate: 100}
}

// Compactor merges the update log into periodic snapshots.
type Compactor struct {
	cfg       Config
	snapshots *SnapshotStore
	updates   *UpdateLog
}

func NewCompactor(cfg Config, snapshots *SnapshotStore, updates *UpdateLog) *Compactor {
	if cfg.SnapshotPerUpdate == 0 {
		cfg.SnapshotPerUpdate = 1
	}
	return &Compactor{cfg: cfg, snapshots: snapshots, updates: updates}
}

// MaybeCompact runs compaction for handle if enabled and newCount (the
// update log's count since the last snapshot, after the just-appended
// row) is a multiple of SnapshotPerUpdate. Compaction failures are
// logged and swallowed: a missed compaction never loses data, it only
// means the log grows a little longer before the next attempt (spec
// §4.2: "failure here is non-fatal").
func (c *Compactor) MaybeCompact(handle uint32, collabType string, newCount uint64) {
	if !c.cfg.EnableSnapshot {
		return
	}
	if newCount == 0 || newCount%uint64(c.cfg.SnapshotPerUpdate) != 0 {
		return
	}
	c.force(handle, collabType)
}

// force runs compaction unconditionally, ignoring EnableSnapshot/the
// update-count threshold. Used by callers (e.g. a plugin that counts
// transactions instead of log rows) that decide for themselves when to
// compact.
func (c *Compactor) force(handle uint32, collabType string) {
	if err := c.compact(handle, collabType); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
		log.WithComponent("persistence").Error().
			Uint32("doc_handle", handle).
			Err(err).
			Msg("snapshot compaction failed")
		return
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
}

// compact opens its own write transaction and runs compactInTxn inside
// it. Used by callers that aren't already inside one (force/MaybeCompact,
// driven off a plugin's own schedule rather than folded into an append).
func (c *Compactor) compact(handle uint32, collabType string) error {
	start := time.Now()
	err := c.snapshots.store.WithWriteTxn(func(txn kv.Txn) error {
		return c.compactInTxn(txn, handle, collabType)
	})
	metrics.SnapshotCompactDuration.Observe(time.Since(start).Seconds())
	return err
}

// compactInTxn runs a full compaction pass against an already-open write
// transaction: read the base snapshot, replay the log since it, fold in a
// new snapshot row, and trim the log below it. spec.md requires this run
// under the same write transaction as the update append that triggered
// it (Engine.AppendUpdate calls this directly rather than going through
// compact), so every step here takes txn rather than opening its own.
func (c *Compactor) compactInTxn(txn kv.Txn, handle uint32, collabType string) error {
	base, hasBase, err := c.snapshots.latestInTxn(txn, handle)
	if err != nil {
		return err
	}
	fromClock := uint64(0)
	if hasBase {
		fromClock = base.Clock
	}

	doc := crdt.NewDoc(0)
	if hasBase {
		d, derr := crdt.DecodeState(base.Bytes)
		if derr != nil {
			return derr
		}
		doc = d
	}

	updates, err := c.updates.readSinceInTxn(txn, handle, fromClock)
	if err != nil {
		return err
	}
	highClock := fromClock
	for _, raw := range updates {
		ops, derr := crdt.DecodeUpdate(raw)
		if derr != nil {
			return derr
		}
		doc.ApplyUpdate(ops)
	}
	lastClock, err := c.lastClockInTxn(txn, handle, fromClock, len(updates))
	if err != nil {
		return err
	}
	if lastClock > highClock {
		highClock = lastClock
	}
	if highClock == fromClock {
		// No new updates since the last snapshot; nothing to compact.
		return nil
	}

	encoded, err := crdt.EncodeState(doc)
	if err != nil {
		return err
	}
	metrics.SnapshotBytes.Observe(float64(len(encoded)))

	description := fmt.Sprintf("%s compaction through clock %d", collabType, highClock)
	row, err := encodeSnapshotRow(description, encoded)
	if err != nil {
		return err
	}

	if _, ierr := txn.Insert(kv.DocSnapshotKey(handle, highClock), row); ierr != nil {
		return ierr
	}
	return c.updates.TrimBelow(txn, handle, highClock)
}

// lastClockInTxn returns the clock of the last update row applied,
// derived from a direct lookup rather than threaded through
// readSinceInTxn (which intentionally returns payloads only).
func (c *Compactor) lastClockInTxn(txn kv.Txn, handle uint32, fromClock uint64, count int) (uint64, error) {
	if count == 0 {
		return fromClock, nil
	}
	entry, ok, err := txn.NextBackEntry(kv.DocUpdateRangeEnd(handle))
	if err != nil {
		return 0, err
	}
	if !ok || !sameHandlePrefix(entry.Key, kv.DocUpdateRangeStart(handle)) {
		return fromClock, nil
	}
	return decodeTrailingClock(entry.Key), nil
}
