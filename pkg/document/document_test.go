package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
)

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	objectID := collab.ObjectID{Type: collab.TypeDocument, Value: "doc-1"}
	c, err := collab.New(objectID, "client-1", 1, collab.EmptySource(), nil)
	require.NoError(t, err)
	doc := New(c)
	require.NoError(t, doc.CreateWithPage("page-1"))
	return doc
}

func TestDocument_InsertAndExportRoundTrip(t *testing.T) {
	doc := newTestDocument(t)

	block, err := doc.InsertBlock(Block{
		ID:           "b1",
		Type:         "paragraph",
		Parent:       "page-1",
		ExternalID:   "t1",
		ExternalType: "text",
		Data:         map[string]any{},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "b1", block.ID)

	require.NoError(t, doc.ApplyTextActions("t1", []TextAction{
		{Kind: "insert", Index: 0, Text: "Hello AppFlowy"},
	}))

	text, err := doc.GetPlainTextFromBlock("b1")
	require.NoError(t, err)
	assert.Equal(t, "Hello AppFlowy", text)

	md, err := doc.Export(NewRegistry(), "page-1", Markdown)
	require.NoError(t, err)
	assert.Equal(t, "Hello AppFlowy", md)

	plain, err := doc.Export(NewRegistry(), "page-1", PlainText)
	require.NoError(t, err)
	assert.Equal(t, "Hello AppFlowy", plain)
}

func TestDocument_DeleteBlockRemovesDescendantsAndChildEntry(t *testing.T) {
	doc := newTestDocument(t)

	_, err := doc.InsertBlock(Block{ID: "b1", Type: "paragraph", Parent: "page-1", Data: map[string]any{}}, "")
	require.NoError(t, err)
	_, err = doc.InsertBlock(Block{ID: "b2", Type: "paragraph", Parent: "b1", Data: map[string]any{}}, "")
	require.NoError(t, err)

	require.NoError(t, doc.DeleteBlock("b1"))

	_, err = doc.GetPlainTextFromBlock("b1")
	require.Error(t, err)
	_, err = doc.GetPlainTextFromBlock("b2")
	require.Error(t, err)
}

func TestDocument_MoveBlockRejectsCycle(t *testing.T) {
	doc := newTestDocument(t)

	_, err := doc.InsertBlock(Block{ID: "b1", Type: "paragraph", Parent: "page-1", Data: map[string]any{}}, "")
	require.NoError(t, err)
	_, err = doc.InsertBlock(Block{ID: "b2", Type: "paragraph", Parent: "b1", Data: map[string]any{}}, "")
	require.NoError(t, err)

	err = doc.MoveBlock("b1", "b2", "")
	require.Error(t, err)
}

func TestDocument_InsertBlockFailsOnMissingParent(t *testing.T) {
	doc := newTestDocument(t)
	_, err := doc.InsertBlock(Block{ID: "b1", Type: "paragraph", Parent: "missing", Data: map[string]any{}}, "")
	require.Error(t, err)
}

func TestDocument_ObserveFiresOnBlockInsert(t *testing.T) {
	doc := newTestDocument(t)
	var events []Event
	unsub := doc.Observe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	_, err := doc.InsertBlock(Block{ID: "b1", Type: "paragraph", Parent: "page-1", Data: map[string]any{}}, "")
	require.NoError(t, err)

	require.NotEmpty(t, events)
}
