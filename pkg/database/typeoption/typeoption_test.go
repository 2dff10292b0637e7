package typeoption

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_UnknownFieldTypeDefaultsToTextAdapter(t *testing.T) {
	a := For(FieldType("NotARealType"))
	assert.Equal(t, "", a.DecodeCell(42))
}

func TestNumberAdapter_DecodeCellDefaultsOnMalformedInput(t *testing.T) {
	a := For(Number)
	assert.Equal(t, float64(0), a.DecodeCell("not a number"))
	assert.Equal(t, float64(3), a.DecodeCell(float64(3)))
}

func TestSelectAdapter_RoundTripsOptions(t *testing.T) {
	a := For(SingleSelect)
	raw := map[string]any{"options": []any{map[string]any{"id": "1", "name": "todo", "color": "red"}}}
	decoded := a.DecodeOptions(raw)
	opts, ok := decoded.([]SelectOption)
	assert.True(t, ok)
	assert.Len(t, opts, 1)
	assert.Equal(t, "todo", opts[0].Name)

	encoded := a.EncodeOptions(opts)
	assert.Contains(t, encoded, "options")
}

func TestChecklistAdapter_DecodeCellSkipsMalformedEntries(t *testing.T) {
	a := For(Checklist)
	raw := []any{
		map[string]any{"name": "task 1", "checked": true},
		"not a map",
	}
	items, ok := a.DecodeCell(raw).([]ChecklistItem)
	assert.True(t, ok)
	assert.Len(t, items, 1)
	assert.True(t, items[0].Checked)
}
