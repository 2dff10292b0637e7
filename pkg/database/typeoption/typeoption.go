// Package typeoption implements the per-field-type storage adapters
// named in spec.md §4.6: converting between a field's opaque
// type_options CRDT map entry and a typed record, and between a row's
// opaque cell data and a typed value. Conversion failures never
// propagate — they default, preserving forward compatibility with
// field types a client doesn't yet understand.
package typeoption

// FieldType enumerates the fifteen field kinds spec.md §4.6 names.
type FieldType string

const (
	Text           FieldType = "Text"
	Number         FieldType = "Number"
	Checkbox       FieldType = "Checkbox"
	DateTime       FieldType = "DateTime"
	SingleSelect   FieldType = "SingleSelect"
	MultiSelect    FieldType = "MultiSelect"
	URL            FieldType = "URL"
	Checklist      FieldType = "Checklist"
	LastEditedTime FieldType = "LastEditedTime"
	CreatedTime    FieldType = "CreatedTime"
	Relation       FieldType = "Relation"
	Summary        FieldType = "Summary"
	Translate      FieldType = "Translate"
	Time           FieldType = "Time"
	Media          FieldType = "Media"
)

// Adapter converts between a field's type_options CRDT entry and typed
// option data, and between a cell's opaque data and a typed cell value.
type Adapter interface {
	// DecodeOptions converts a raw type_options map entry into a typed
	// record; on any malformed input it returns the type's zero-value
	// default rather than an error.
	DecodeOptions(raw map[string]any) any
	// EncodeOptions converts typed option data back to a CRDT map entry.
	EncodeOptions(opts any) map[string]any
	// DecodeCell converts a cell's opaque "data" entry into a typed
	// value, defaulting on malformed input.
	DecodeCell(raw any) any
	// EncodeCell converts a typed value back into the cell's "data" form.
	EncodeCell(value any) any
}

var registry = map[FieldType]Adapter{
	Text:           textAdapter{},
	Number:         numberAdapter{},
	Checkbox:       checkboxAdapter{},
	SingleSelect:   selectAdapter{multi: false},
	MultiSelect:    selectAdapter{multi: true},
	URL:            urlAdapter{},
	Checklist:      checklistAdapter{},
	DateTime:       dateTimeAdapter{},
	LastEditedTime: dateTimeAdapter{},
	CreatedTime:    dateTimeAdapter{},
	Relation:       relationAdapter{},
	Summary:        textAdapter{},
	Translate:      textAdapter{},
	Time:           numberAdapter{},
	Media:          mediaAdapter{},
}

// For returns the adapter for ft, or a pass-through text adapter for an
// unrecognized type so unknown/future field types degrade gracefully
// instead of panicking.
func For(ft FieldType) Adapter {
	if a, ok := registry[ft]; ok {
		return a
	}
	return textAdapter{}
}

type textAdapter struct{}

func (textAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (textAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (textAdapter) DecodeCell(raw any) any {
	if s, ok := raw.(string); ok {
		return s
	}
	return ""
}
func (textAdapter) EncodeCell(value any) any {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

type numberAdapter struct{}

func (numberAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (numberAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (numberAdapter) DecodeCell(raw any) any {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return float64(0)
	}
}
func (numberAdapter) EncodeCell(value any) any {
	if f, ok := value.(float64); ok {
		return f
	}
	return float64(0)
}

type checkboxAdapter struct{}

func (checkboxAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (checkboxAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (checkboxAdapter) DecodeCell(raw any) any {
	if b, ok := raw.(bool); ok {
		return b
	}
	return false
}
func (checkboxAdapter) EncodeCell(value any) any {
	if b, ok := value.(bool); ok {
		return b
	}
	return false
}

// SelectOption is one choice in a single/multi select field.
type SelectOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type selectAdapter struct{ multi bool }

func (selectAdapter) DecodeOptions(raw map[string]any) any {
	options, _ := raw["options"].([]any)
	out := make([]SelectOption, 0, len(options))
	for _, o := range options {
		m, ok := o.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		name, _ := m["name"].(string)
		color, _ := m["color"].(string)
		out = append(out, SelectOption{ID: id, Name: name, Color: color})
	}
	return out
}

func (selectAdapter) EncodeOptions(opts any) map[string]any {
	options, _ := opts.([]SelectOption)
	raw := make([]any, 0, len(options))
	for _, o := range options {
		raw = append(raw, map[string]any{"id": o.ID, "name": o.Name, "color": o.Color})
	}
	return map[string]any{"options": raw}
}

func (a selectAdapter) DecodeCell(raw any) any {
	if a.multi {
		items, _ := raw.([]any)
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return ""
}

func (a selectAdapter) EncodeCell(value any) any {
	if a.multi {
		ids, _ := value.([]string)
		raw := make([]any, 0, len(ids))
		for _, id := range ids {
			raw = append(raw, id)
		}
		return raw
	}
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

type urlAdapter struct{}

func (urlAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (urlAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (urlAdapter) DecodeCell(raw any) any {
	if s, ok := raw.(string); ok {
		return s
	}
	return ""
}
func (urlAdapter) EncodeCell(value any) any {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

// ChecklistItem is one task entry in a checklist cell.
type ChecklistItem struct {
	Name    string `json:"name"`
	Checked bool   `json:"checked"`
}

type checklistAdapter struct{}

func (checklistAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (checklistAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (checklistAdapter) DecodeCell(raw any) any {
	items, _ := raw.([]any)
	out := make([]ChecklistItem, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		checked, _ := m["checked"].(bool)
		out = append(out, ChecklistItem{Name: name, Checked: checked})
	}
	return out
}
func (checklistAdapter) EncodeCell(value any) any {
	items, _ := value.([]ChecklistItem)
	raw := make([]any, 0, len(items))
	for _, it := range items {
		raw = append(raw, map[string]any{"name": it.Name, "checked": it.Checked})
	}
	return raw
}

type dateTimeAdapter struct{}

func (dateTimeAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (dateTimeAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (dateTimeAdapter) DecodeCell(raw any) any {
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return int64(0)
	}
}
func (dateTimeAdapter) EncodeCell(value any) any {
	if i, ok := value.(int64); ok {
		return i
	}
	return int64(0)
}

type relationAdapter struct{}

func (relationAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (relationAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (relationAdapter) DecodeCell(raw any) any {
	items, _ := raw.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
func (relationAdapter) EncodeCell(value any) any {
	ids, _ := value.([]string)
	raw := make([]any, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id)
	}
	return raw
}

type mediaAdapter struct{}

func (mediaAdapter) DecodeOptions(raw map[string]any) any { return raw }
func (mediaAdapter) EncodeOptions(opts any) map[string]any {
	if m, ok := opts.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
func (mediaAdapter) DecodeCell(raw any) any {
	items, _ := raw.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
func (mediaAdapter) EncodeCell(value any) any {
	urls, _ := value.([]string)
	raw := make([]any, 0, len(urls))
	for _, u := range urls {
		raw = append(raw, u)
	}
	return raw
}
