package crdt

import (
	"encoding/json"

	"github.com/collabrt/collab/pkg/collaberr"
)

// Wire version tags, the leading byte every encoded state/update carries
// so a reader can tell the two apart (and reject anything from a future,
// incompatible encoding) without out-of-band framing.
const (
	StateVersion1  byte = 0x01
	UpdateVersion1 byte = 0x02
)

type stateEnvelope struct {
	Replica uint64 `json:"replica"`
	Lamport uint64 `json:"lamport"`
	Ops     []Op   `json:"ops"`
}

type updateEnvelope struct {
	Ops []Op `json:"ops"`
}

// EncodeState serializes doc's full structural state, tombstones
// included, as the minimal op stream that reconstructs it exactly. This
// is what the persistence layer writes as a compaction snapshot.
func EncodeState(doc *Doc) ([]byte, error) {
	doc.mu.Lock()
	env := stateEnvelope{Replica: doc.replica, Lamport: doc.clock.lamport, Ops: doc.exportOpsLocked()}
	doc.mu.Unlock()

	body, err := json.Marshal(env)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "encode doc state", err)
	}
	return append([]byte{StateVersion1}, body...), nil
}

// DecodeState reconstructs a Doc from bytes produced by EncodeState. The
// returned doc has no replica identity beyond the one encoded, so a
// caller that will keep writing to it locally should not mistake it for
// its own replica id unless that is in fact what was encoded.
func DecodeState(data []byte) (*Doc, error) {
	if len(data) == 0 {
		return nil, collaberr.NoRequiredData("state")
	}
	if data[0] != StateVersion1 {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "unsupported doc state version", nil)
	}
	var env stateEnvelope
	if err := json.Unmarshal(data[1:], &env); err != nil {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "decode doc state", err)
	}

	doc := NewDoc(env.Replica)
	doc.clock.lamport = env.Lamport
	for _, op := range env.Ops {
		doc.applyOp(op)
	}
	return doc, nil
}

// EncodeUpdate serializes an incremental op stream, the form persisted to
// the update log and broadcast to subscribers between snapshots.
func EncodeUpdate(ops []Op) ([]byte, error) {
	body, err := json.Marshal(updateEnvelope{Ops: ops})
	if err != nil {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "encode update", err)
	}
	return append([]byte{UpdateVersion1}, body...), nil
}

// DecodeUpdate parses bytes produced by EncodeUpdate. Apply the result to
// a Doc with Doc.ApplyUpdate.
func DecodeUpdate(data []byte) ([]Op, error) {
	if len(data) == 0 {
		return nil, collaberr.NoRequiredData("update")
	}
	if data[0] != UpdateVersion1 {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "unsupported update version", nil)
	}
	var env updateEnvelope
	if err := json.Unmarshal(data[1:], &env); err != nil {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "decode update", err)
	}
	return env.Ops, nil
}
