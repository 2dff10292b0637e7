package kv

import "encoding/binary"

// Reserved keyspace prefixes (spec §6). Each is one byte so that
// prefix || doc_handle || sub-discriminator || clock sorts documents
// together and, within a document, entries in ascending clock order.
const (
	PrefixDocIndex    byte = 0x01 // DOC_INDEX
	PrefixDocUpdate   byte = 0x02 // DOC_UPDATE
	PrefixDocSnapshot byte = 0x03 // DOC_SNAPSHOT
	PrefixAwareness   byte = 0x04 // AWARENESS
	PrefixSecondary   byte = 0x05 // SECONDARY
)

// AppendUint32BE appends a big-endian uint32 to buf.
func AppendUint32BE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// AppendUint64BE appends a big-endian uint64 to buf.
func AppendUint64BE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// AppendInt64BE appends a big-endian int64 to buf (used for uid, which may
// be negative in the snowflake-derived id space).
func AppendInt64BE(buf []byte, v int64) []byte {
	return AppendUint64BE(buf, uint64(v))
}

// DocUpdateKey builds the DOC_UPDATE row key for (doc_handle, clock).
func DocUpdateKey(handle uint32, clock uint64) []byte {
	buf := make([]byte, 0, 1+4+8)
	buf = append(buf, PrefixDocUpdate)
	buf = AppendUint32BE(buf, handle)
	buf = AppendUint64BE(buf, clock)
	return buf
}

// DocUpdateRangeStart/End bound all update rows for one doc handle.
func DocUpdateRangeStart(handle uint32) []byte {
	buf := make([]byte, 0, 1+4)
	buf = append(buf, PrefixDocUpdate)
	return AppendUint32BE(buf, handle)
}

func DocUpdateRangeEnd(handle uint32) []byte {
	buf := DocUpdateRangeStart(handle)
	return AppendUint64BE(buf, ^uint64(0))
}

// DocSnapshotKey builds the DOC_SNAPSHOT row key for (doc_handle, snapshot_id).
func DocSnapshotKey(handle uint32, snapshotID uint64) []byte {
	buf := make([]byte, 0, 1+4+8)
	buf = append(buf, PrefixDocSnapshot)
	buf = AppendUint32BE(buf, handle)
	buf = AppendUint64BE(buf, snapshotID)
	return buf
}

func DocSnapshotRangeStart(handle uint32) []byte {
	buf := make([]byte, 0, 1+4)
	buf = append(buf, PrefixDocSnapshot)
	return AppendUint32BE(buf, handle)
}

func DocSnapshotRangeEnd(handle uint32) []byte {
	buf := DocSnapshotRangeStart(handle)
	return AppendUint64BE(buf, ^uint64(0))
}

// DocIndexKey builds the DOC_INDEX row key for (uid, workspace_id, object_id).
func DocIndexKey(uid int64, workspaceID, objectID string) []byte {
	buf := make([]byte, 0, 1+8+len(workspaceID)+1+len(objectID))
	buf = append(buf, PrefixDocIndex)
	buf = AppendInt64BE(buf, uid)
	buf = append(buf, []byte(workspaceID)...)
	buf = append(buf, 0x00) // NUL separator: workspace ids never contain NUL
	buf = append(buf, []byte(objectID)...)
	return buf
}

// AwarenessKey builds the AWARENESS row key for (doc_handle, client_id).
func AwarenessKey(handle uint32, clientID uint64) []byte {
	buf := make([]byte, 0, 1+4+8)
	buf = append(buf, PrefixAwareness)
	buf = AppendUint32BE(buf, handle)
	buf = AppendUint64BE(buf, clientID)
	return buf
}
