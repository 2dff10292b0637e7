// Package database implements the field/row/view overlay over a
// Collab's CRDT state (spec §3/§4.6): fields and rows keyed by id in
// canonical maps, views carrying their own ordered field/row lists so
// per-view sorting never touches the canonical sets.
package database

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/database/typeoption"
)

const (
	rootFields = "fields"
	rootRows   = "rows"
	rootViews  = "views"
	rootMetas  = "metas"

	metaInlineViewID = "inline_view_id"
)

// RowID is a typed wrapper around a 63-bit integer, serialized as a
// decimal string in JSON per spec.md §4.6's row-id encoding rule.
type RowID int64

func (r RowID) String() string { return strconv.FormatInt(int64(r), 10) }

func (r RowID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r *RowID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return collaberr.Wrap(collaberr.KindEncoding, "row id must be a decimal string", nil)
	}
	v, err := strconv.ParseInt(s[1:len(s)-1], 10, 64)
	if err != nil {
		return collaberr.Wrap(collaberr.KindEncoding, "row id must be a decimal string", err)
	}
	*r = RowID(v)
	return nil
}

// Field mirrors spec.md's Field shape.
type Field struct {
	ID          string                                 `json:"id"`
	Name        string                                 `json:"name"`
	FieldType   typeoption.FieldType                   `json:"field_type"`
	IsPrimary   bool                                   `json:"is_primary"`
	Width       int                                    `json:"width"`
	Visibility  bool                                   `json:"visibility"`
	TypeOptions map[typeoption.FieldType]map[string]any `json:"type_options"`
}

func (f Field) asMap() map[string]any {
	opts := make(map[string]any, len(f.TypeOptions))
	for k, v := range f.TypeOptions {
		opts[string(k)] = v
	}
	return map[string]any{
		"id":           f.ID,
		"name":         f.Name,
		"field_type":   string(f.FieldType),
		"is_primary":   f.IsPrimary,
		"width":        f.Width,
		"visibility":   f.Visibility,
		"type_options": opts,
	}
}

func fieldFromMap(v any) (Field, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Field{}, false
	}
	f := Field{}
	f.ID, _ = m["id"].(string)
	f.Name, _ = m["name"].(string)
	ft, _ := m["field_type"].(string)
	f.FieldType = typeoption.FieldType(ft)
	f.IsPrimary, _ = m["is_primary"].(bool)
	if w, ok := m["width"].(int); ok {
		f.Width = w
	} else if w, ok := m["width"].(float64); ok {
		f.Width = int(w)
	}
	f.Visibility, _ = m["visibility"].(bool)
	f.TypeOptions = make(map[typeoption.FieldType]map[string]any)
	if opts, ok := m["type_options"].(map[string]any); ok {
		for k, v := range opts {
			if om, ok := v.(map[string]any); ok {
				f.TypeOptions[typeoption.FieldType(k)] = om
			}
		}
	}
	return f, true
}

// Cell is one field's value on one row: a "data" entry plus any
// field-type-specific keys an adapter wants to stash alongside it.
type Cell map[string]any

// Row mirrors spec.md's Row shape.
type Row struct {
	ID         RowID
	Height     int
	Visibility bool
	Cells      map[string]Cell
}

func (r Row) asMap() map[string]any {
	cells := make(map[string]any, len(r.Cells))
	for k, v := range r.Cells {
		cells[k] = map[string]any(v)
	}
	return map[string]any{
		"id":         r.ID.String(),
		"height":     r.Height,
		"visibility": r.Visibility,
		"cells":      cells,
	}
}

func rowFromMap(v any) (Row, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Row{}, false
	}
	row := Row{}
	if idStr, ok := m["id"].(string); ok {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			row.ID = RowID(id)
		}
	}
	if h, ok := m["height"].(int); ok {
		row.Height = h
	} else if h, ok := m["height"].(float64); ok {
		row.Height = int(h)
	}
	row.Visibility, _ = m["visibility"].(bool)
	row.Cells = make(map[string]Cell)
	if cells, ok := m["cells"].(map[string]any); ok {
		for k, v := range cells {
			if cm, ok := v.(map[string]any); ok {
				row.Cells[k] = Cell(cm)
			}
		}
	}
	return row, true
}

// FieldOrder/RowOrder are the ordered id references a view keeps to
// permit per-view sorting without touching the canonical sets.
type FieldOrder struct{ ID string }
type RowOrder struct{ ID RowID }

// Layout enumerates the view layouts spec.md §3 names.
type Layout string

const (
	Grid     Layout = "Grid"
	Board    Layout = "Board"
	Calendar Layout = "Calendar"
)

// View mirrors spec.md's View shape.
type View struct {
	ID             string
	DatabaseID     string
	Name           string
	Layout         Layout
	LayoutSettings map[string]any
	Filters        []map[string]any
	Sorts          []map[string]any
	GroupSettings  map[string]any
	FieldOrders    []FieldOrder
	RowOrders      []RowOrder
	FieldSettings  map[string]any
	Calculations   map[string]any
}

// RowChange/FieldChange/DatabaseViewChange are the three broadcast
// channels spec §9's open question resolves in favor of (over the
// two-channel form that drops field changes).
type RowChange struct {
	RowID RowID
	Kind  string // inserted, updated, removed
}

type FieldChange struct {
	FieldID string
	Kind    string // inserted, updated, removed
	Field   Field
}

type DatabaseViewChange struct {
	ViewID string
	Kind   string // inserted, updated, removed
}

// Database is the typed field/row/view view over one Collab object.
type Database struct {
	collab *collab.Collab

	mu           sync.Mutex
	rowSubs      map[uint64]func(RowChange)
	fieldSubs    map[uint64]func(FieldChange)
	viewSubs     map[uint64]func(DatabaseViewChange)
	nextSub      uint64
}

func New(c *collab.Collab) *Database {
	db := &Database{
		collab:    c,
		rowSubs:   make(map[uint64]func(RowChange)),
		fieldSubs: make(map[uint64]func(FieldChange)),
		viewSubs:  make(map[uint64]func(DatabaseViewChange)),
	}
	c.Observe(db.translate)
	return db
}

func (db *Database) allocSub() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.nextSub
	db.nextSub++
	return id
}

func (db *Database) ObserveRows(fn func(RowChange)) func() {
	id := db.allocSub()
	db.mu.Lock()
	db.rowSubs[id] = fn
	db.mu.Unlock()
	return func() { db.mu.Lock(); delete(db.rowSubs, id); db.mu.Unlock() }
}

func (db *Database) ObserveFields(fn func(FieldChange)) func() {
	id := db.allocSub()
	db.mu.Lock()
	db.fieldSubs[id] = fn
	db.mu.Unlock()
	return func() { db.mu.Lock(); delete(db.fieldSubs, id); db.mu.Unlock() }
}

func (db *Database) ObserveViews(fn func(DatabaseViewChange)) func() {
	id := db.allocSub()
	db.mu.Lock()
	db.viewSubs[id] = fn
	db.mu.Unlock()
	return func() { db.mu.Lock(); delete(db.viewSubs, id); db.mu.Unlock() }
}

func (db *Database) translate(txn *crdt.Txn, events []crdt.Event) {
	for _, ev := range events {
		if ev.Kind != crdt.EventMap {
			continue
		}
		for _, ch := range ev.Map {
			kind := "updated"
			switch ch.Kind {
			case crdt.Inserted:
				kind = "inserted"
			case crdt.Removed:
				kind = "removed"
			}
			switch ev.Root {
			case rootRows:
				if id, err := strconv.ParseInt(ch.Key, 10, 64); err == nil {
					db.fanRow(RowChange{RowID: RowID(id), Kind: kind})
				}
			case rootFields:
				var f Field
				if ch.NewValue != nil {
					f, _ = fieldFromMap(ch.NewValue)
				}
				db.fanField(FieldChange{FieldID: ch.Key, Kind: kind, Field: f})
			case rootViews:
				db.fanView(DatabaseViewChange{ViewID: ch.Key, Kind: kind})
			}
		}
	}
}

func (db *Database) fanRow(c RowChange) {
	db.mu.Lock()
	subs := make([]func(RowChange), 0, len(db.rowSubs))
	for _, fn := range db.rowSubs {
		subs = append(subs, fn)
	}
	db.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (db *Database) fanField(c FieldChange) {
	db.mu.Lock()
	subs := make([]func(FieldChange), 0, len(db.fieldSubs))
	for _, fn := range db.fieldSubs {
		subs = append(subs, fn)
	}
	db.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (db *Database) fanView(c DatabaseViewChange) {
	db.mu.Lock()
	subs := make([]func(DatabaseViewChange), 0, len(db.viewSubs))
	for _, fn := range db.viewSubs {
		subs = append(subs, fn)
	}
	db.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

// ViewParams carries the fields create_view accepts (spec §4.6).
type ViewParams struct {
	ID             string
	Name           string
	Layout         Layout
	Filters        []map[string]any
	Sorts          []map[string]any
	Groups         map[string]any
	FieldSettings  map[string]any
	LayoutSettings map[string]any
}

// CreateView inserts a view; the first view created becomes the
// database's inline_view_id if unset.
func (db *Database) CreateView(params ViewParams) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		v := View{
			ID:             params.ID,
			Name:           params.Name,
			Layout:         params.Layout,
			Filters:        params.Filters,
			Sorts:          params.Sorts,
			GroupSettings:  params.Groups,
			FieldSettings:  params.FieldSettings,
			LayoutSettings: params.LayoutSettings,
		}
		txn.MapSet(rootViews, v.ID, viewToMap(v))
		if _, ok := txn.MapGet(rootMetas, metaInlineViewID); !ok {
			txn.MapSet(rootMetas, metaInlineViewID, v.ID)
		}
		return nil
	})
}

func viewToMap(v View) map[string]any {
	fieldOrders := make([]any, 0, len(v.FieldOrders))
	for _, fo := range v.FieldOrders {
		fieldOrders = append(fieldOrders, fo.ID)
	}
	rowOrders := make([]any, 0, len(v.RowOrders))
	for _, ro := range v.RowOrders {
		rowOrders = append(rowOrders, ro.ID.String())
	}
	return map[string]any{
		"id":              v.ID,
		"database_id":     v.DatabaseID,
		"name":            v.Name,
		"layout":          string(v.Layout),
		"layout_settings": v.LayoutSettings,
		"filters":         v.Filters,
		"sorts":           v.Sorts,
		"group_settings":  v.GroupSettings,
		"field_orders":    fieldOrders,
		"row_orders":      rowOrders,
		"field_settings":  v.FieldSettings,
		"calculations":    v.Calculations,
	}
}

func viewFromMap(raw any) (View, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return View{}, false
	}
	v := View{}
	v.ID, _ = m["id"].(string)
	v.DatabaseID, _ = m["database_id"].(string)
	v.Name, _ = m["name"].(string)
	layout, _ := m["layout"].(string)
	v.Layout = Layout(layout)
	v.LayoutSettings, _ = m["layout_settings"].(map[string]any)
	v.GroupSettings, _ = m["group_settings"].(map[string]any)
	v.FieldSettings, _ = m["field_settings"].(map[string]any)
	v.Calculations, _ = m["calculations"].(map[string]any)
	if filters, ok := m["filters"].([]any); ok {
		for _, f := range filters {
			if fm, ok := f.(map[string]any); ok {
				v.Filters = append(v.Filters, fm)
			}
		}
	}
	if sorts, ok := m["sorts"].([]any); ok {
		for _, s := range sorts {
			if sm, ok := s.(map[string]any); ok {
				v.Sorts = append(v.Sorts, sm)
			}
		}
	}
	if fieldOrders, ok := m["field_orders"].([]any); ok {
		for _, fo := range fieldOrders {
			if id, ok := fo.(string); ok {
				v.FieldOrders = append(v.FieldOrders, FieldOrder{ID: id})
			}
		}
	}
	if rowOrders, ok := m["row_orders"].([]any); ok {
		for _, ro := range rowOrders {
			if idStr, ok := ro.(string); ok {
				if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
					v.RowOrders = append(v.RowOrders, RowOrder{ID: RowID(id)})
				}
			}
		}
	}
	return v, true
}

// InsertField adds a field to the canonical field map. At most one field
// may have IsPrimary set; setting a new primary silently clears the
// previous one, matching the "at most one field has is_primary=true"
// invariant.
func (db *Database) InsertField(f Field) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		if f.IsPrimary {
			for _, key := range txn.MapKeys(rootFields) {
				raw, ok := txn.MapGet(rootFields, key)
				if !ok {
					continue
				}
				existing, _ := fieldFromMap(raw)
				if existing.IsPrimary {
					existing.IsPrimary = false
					txn.MapSet(rootFields, key, existing.asMap())
				}
			}
		}
		txn.MapSet(rootFields, f.ID, f.asMap())
		return nil
	})
}

// UpdateField runs mutate against the current field value inside the
// active write transaction, a builder-closure API mirroring spec.md's
// update_field(id, f).
func (db *Database) UpdateField(id string, mutate func(*Field)) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootFields, id)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("field %s not found", id))
		}
		f, _ := fieldFromMap(raw)
		mutate(&f)
		txn.MapSet(rootFields, id, f.asMap())
		return nil
	})
}

// DeleteField removes a field and strips its id from every view's
// filters/sorts/groups/field_orders/field_settings (spec §8 property 3).
func (db *Database) DeleteField(id string) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		if _, ok := txn.MapGet(rootFields, id); !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("field %s not found", id))
		}
		txn.MapDelete(rootFields, id)

		for _, viewID := range txn.MapKeys(rootViews) {
			raw, ok := txn.MapGet(rootViews, viewID)
			if !ok {
				continue
			}
			v, _ := viewFromMap(raw)
			v.FieldOrders = removeFieldOrder(v.FieldOrders, id)
			v.Filters = removeFieldRefs(v.Filters, id)
			v.Sorts = removeFieldRefs(v.Sorts, id)
			delete(v.FieldSettings, id)
			delete(v.GroupSettings, id)
			txn.MapSet(rootViews, viewID, viewToMap(v))
		}
		return nil
	})
}

func removeFieldOrder(orders []FieldOrder, id string) []FieldOrder {
	out := orders[:0]
	for _, o := range orders {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}

func removeFieldRefs(entries []map[string]any, fieldID string) []map[string]any {
	out := entries[:0]
	for _, e := range entries {
		if fid, _ := e["field_id"].(string); fid != fieldID {
			out = append(out, e)
		}
	}
	return out
}

// InsertRow adds row to the canonical row map.
func (db *Database) InsertRow(row Row) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		txn.MapSet(rootRows, row.ID.String(), row.asMap())
		return nil
	})
}

// UpdateRow runs mutate against the current row value, a builder-closure
// API mirroring spec.md's update_row(id, f). UpdateCells is a
// convenience for the common case of changing one field's cell.
func (db *Database) UpdateRow(id RowID, mutate func(*Row)) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		key := id.String()
		raw, ok := txn.MapGet(rootRows, key)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("row %s not found", key))
		}
		row, _ := rowFromMap(raw)
		if row.Cells == nil {
			row.Cells = make(map[string]Cell)
		}
		mutate(&row)
		txn.MapSet(rootRows, key, row.asMap())
		return nil
	})
}

// UpdateCells is UpdateRow specialized to one field's cell value.
func (db *Database) UpdateCells(id RowID, fieldID string, value any) error {
	return db.UpdateRow(id, func(row *Row) {
		row.Cells[fieldID] = Cell{"data": value}
	})
}

// GetCell returns a row's cell for fieldID.
func (db *Database) GetCell(fieldID string, id RowID) (Cell, error) {
	var cell Cell
	err := db.collab.ReadTxn(func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootRows, id.String())
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("row %s not found", id))
		}
		row, _ := rowFromMap(raw)
		cell = row.Cells[fieldID]
		return nil
	})
	return cell, err
}

// GetCellsForField walks viewID's row_order list and returns fieldID's
// cell for each row in display order.
func (db *Database) GetCellsForField(viewID, fieldID string) ([]Cell, error) {
	var out []Cell
	err := db.collab.ReadTxn(func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootViews, viewID)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("view %s not found", viewID))
		}
		v, _ := viewFromMap(raw)
		for _, ro := range v.RowOrders {
			rowRaw, ok := txn.MapGet(rootRows, ro.ID.String())
			if !ok {
				continue
			}
			row, _ := rowFromMap(rowRaw)
			out = append(out, row.Cells[fieldID])
		}
		return nil
	})
	return out, err
}

// AppendRowToView appends id to viewID's row_order list, the step that
// makes a freshly inserted row visible in that view's display order.
func (db *Database) AppendRowToView(viewID string, id RowID) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootViews, viewID)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("view %s not found", viewID))
		}
		v, _ := viewFromMap(raw)
		v.RowOrders = append(v.RowOrders, RowOrder{ID: id})
		txn.MapSet(rootViews, viewID, viewToMap(v))
		return nil
	})
}

// AppendFieldToView appends id to viewID's field_order list.
func (db *Database) AppendFieldToView(viewID, fieldID string) error {
	return db.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootViews, viewID)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("view %s not found", viewID))
		}
		v, _ := viewFromMap(raw)
		v.FieldOrders = append(v.FieldOrders, FieldOrder{ID: fieldID})
		txn.MapSet(rootViews, viewID, viewToMap(v))
		return nil
	})
}

func (db *Database) InlineViewID() (string, error) {
	var id string
	err := db.collab.ReadTxn(func(txn *crdt.Txn) error {
		v, ok := txn.MapGet(rootMetas, metaInlineViewID)
		if !ok {
			return collaberr.NoRequiredData("inline_view_id")
		}
		id, _ = v.(string)
		return nil
	})
	return id, err
}
