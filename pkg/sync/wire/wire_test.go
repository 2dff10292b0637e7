package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
)

func TestEncodeDecode_RoundTripsAllFields(t *testing.T) {
	f := Frame{
		Kind:     KindUpdate,
		ObjectID: "doc-1",
		Origin:   collab.ClientOrigin(42, "device-a"),
		Body:     []byte("update bytes"),
	}
	decoded, err := Decode(Encode(f))
	require.NoError(t, err)
	assert.Equal(t, f.Kind, decoded.Kind)
	assert.Equal(t, f.ObjectID, decoded.ObjectID)
	assert.True(t, f.Origin.Equal(decoded.Origin))
	assert.Equal(t, f.Body, decoded.Body)
}

func TestEncodeDecode_EmptyOrigin(t *testing.T) {
	f := Frame{Kind: KindAck, ObjectID: "doc-2", Origin: collab.EmptyOrigin}
	decoded, err := Decode(Encode(f))
	require.NoError(t, err)
	assert.True(t, decoded.Origin.Equal(collab.EmptyOrigin))
}

func TestWriteReadFrame_RoundTripsOverStream(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{
		Kind:     KindServerSync,
		ObjectID: "doc-3",
		Origin:   collab.ServerOrigin(),
		Body:     []byte{1, 2, 3, 4},
	}
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Kind, got.Kind)
	assert.Equal(t, f.ObjectID, got.ObjectID)
	assert.Equal(t, f.Body, got.Body)
}

func TestWriteReadFrame_MultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	frames := []Frame{
		{Kind: KindInit, ObjectID: "a"},
		{Kind: KindUpdate, ObjectID: "a", Body: []byte("x")},
		{Kind: KindAck, ObjectID: "a"},
	}
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}
	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.ObjectID, got.ObjectID)
	}
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
