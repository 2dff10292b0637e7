// Package wire implements the length-delimited frame codec spec §4.8
// names: `u32 length || opaque payload`, with the payload built field by
// field with google.golang.org/protobuf/encoding/protowire rather than
// a generated .pb.go message, since the frame shape is small and fixed
// enough that a generated stub would add a build step for no benefit.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/collabrt/collab/pkg/collab"
)

// Kind enumerates the frame payload kinds spec §4.8 names.
type Kind uint64

const (
	KindInit Kind = iota
	KindUpdate
	KindAck
	KindAwarenessUpdate
	KindClientInit
	KindServerSync
)

const (
	fieldKind     = protowire.Number(1)
	fieldObjectID = protowire.Number(2)
	fieldOrigin   = protowire.Number(3)
	fieldBody     = protowire.Number(4)
	fieldSeq      = protowire.Number(5)

	fieldOriginKind     = protowire.Number(1)
	fieldOriginUID      = protowire.Number(2)
	fieldOriginDeviceID = protowire.Number(3)
)

// Frame is one message exchanged between a client and the broadcast
// group: {object_id, origin, body_bytes} tagged with a Kind. Seq
// identifies an outbound sink's queue entry so a KindAck frame can
// reference exactly which send it acknowledges; it is zero and omitted
// on frames the sink itself doesn't track.
type Frame struct {
	Kind     Kind
	ObjectID string
	Origin   collab.Origin
	Body     []byte
	Seq      uint64
}

// EncodeOrigin serializes an Origin to its field-tagged wire form.
func EncodeOrigin(o collab.Origin) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOriginKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Kind))
	if o.Kind == collab.OriginClient {
		b = protowire.AppendTag(b, fieldOriginUID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(o.UID))
		b = protowire.AppendTag(b, fieldOriginDeviceID, protowire.BytesType)
		b = protowire.AppendString(b, o.DeviceID)
	}
	return b
}

// DecodeOrigin parses an Origin from its field-tagged wire form.
func DecodeOrigin(b []byte) (collab.Origin, error) {
	var o collab.Origin
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return o, fmt.Errorf("wire: malformed origin tag")
		}
		b = b[n:]
		switch num {
		case fieldOriginKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, fmt.Errorf("wire: malformed origin kind")
			}
			o.Kind = collab.OriginKind(v)
			b = b[n:]
		case fieldOriginUID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, fmt.Errorf("wire: malformed origin uid")
			}
			o.UID = int64(v)
			b = b[n:]
		case fieldOriginDeviceID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return o, fmt.Errorf("wire: malformed origin device id")
			}
			o.DeviceID = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return o, fmt.Errorf("wire: malformed origin field")
			}
			b = b[n:]
		}
	}
	return o, nil
}

// Encode serializes f to its field-tagged payload form (not yet
// length-prefixed).
func Encode(f Frame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	b = protowire.AppendTag(b, fieldObjectID, protowire.BytesType)
	b = protowire.AppendString(b, f.ObjectID)
	b = protowire.AppendTag(b, fieldOrigin, protowire.BytesType)
	b = protowire.AppendBytes(b, EncodeOrigin(f.Origin))
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Body)
	if f.Seq != 0 {
		b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Seq)
	}
	return b
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, fmt.Errorf("wire: malformed frame tag")
		}
		b = b[n:]
		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: malformed frame kind")
			}
			f.Kind = Kind(v)
			b = b[n:]
		case fieldObjectID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return f, fmt.Errorf("wire: malformed frame object id")
			}
			f.ObjectID = v
			b = b[n:]
		case fieldOrigin:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, fmt.Errorf("wire: malformed frame origin")
			}
			origin, err := DecodeOrigin(raw)
			if err != nil {
				return f, err
			}
			f.Origin = origin
			b = b[n:]
		case fieldBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, fmt.Errorf("wire: malformed frame body")
			}
			f.Body = append([]byte(nil), v...)
			b = b[n:]
		case fieldSeq:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: malformed frame seq")
			}
			f.Seq = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, fmt.Errorf("wire: malformed frame field")
			}
			b = b[n:]
		}
	}
	return f, nil
}

const maxFrameLen = 64 << 20 // 64 MiB, generous upper bound against a corrupt length prefix

// WriteFrame writes f length-prefixed to w: a big-endian u32 length
// followed by its encoded payload.
func WriteFrame(w io.Writer, f Frame) error {
	payload := Encode(f)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameLen {
		return Frame{}, fmt.Errorf("wire: frame length %d exceeds maximum", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Decode(payload)
}
