// Package document implements the block-tree overlay over a Collab's
// CRDT state: a page block, a children-list per non-leaf block, and a
// text delta per rich-text block (spec §3/§4.5).
package document

import (
	"fmt"
	"sync"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/crdt"
)

const (
	rootBlocks = "blocks"
	rootMeta   = "doc_meta"

	metaPageID = "page_id"
)

func childrenRoot(listID string) string { return "children:" + listID }
func textRoot(textID string) string     { return "text:" + textID }

// Block mirrors spec.md's Block shape. Data is an opaque JSON-like map
// carried verbatim; its structure is a block-type concern, not the
// overlay's.
type Block struct {
	ID           string         `json:"id"`
	Type         string         `json:"ty"`
	Parent       string         `json:"parent"`
	Children     string         `json:"children"`
	Data         map[string]any `json:"data"`
	ExternalID   string         `json:"external_id,omitempty"`
	ExternalType string         `json:"external_type,omitempty"`
}

func (b Block) asMap() map[string]any {
	return map[string]any{
		"id":            b.ID,
		"ty":            b.Type,
		"parent":        b.Parent,
		"children":      b.Children,
		"data":          b.Data,
		"external_id":   b.ExternalID,
		"external_type": b.ExternalType,
	}
}

func blockFromMap(v any) (Block, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Block{}, false
	}
	b := Block{}
	b.ID, _ = m["id"].(string)
	b.Type, _ = m["ty"].(string)
	b.Parent, _ = m["parent"].(string)
	b.Children, _ = m["children"].(string)
	b.Data, _ = m["data"].(map[string]any)
	b.ExternalID, _ = m["external_id"].(string)
	b.ExternalType, _ = m["external_type"].(string)
	return b, true
}

// Event is a change notification translated from a raw CRDT event,
// carrying enough of a path to tell subscribers which block/list/text
// changed (spec §4.5's BlockEvent).
type Event struct {
	BlockID string
	Kind    string // inserted, updated, removed, children_changed, text_changed
}

// Document is the typed block-tree view over one Collab object. It never
// holds independent state: every read/write goes straight through the
// underlying Collab's transactions.
type Document struct {
	collab *collab.Collab

	mu   sync.Mutex
	subs map[uint64]func(Event)
	next uint64
}

// New wraps an already-constructed Collab as a Document overlay.
func New(c *collab.Collab) *Document {
	d := &Document{collab: c, subs: make(map[uint64]func(Event))}
	c.Observe(d.translate)
	return d
}

// CreateWithPage initializes an empty document with a single root page
// block and an empty children list, matching spec.md's "exactly one
// block has ty=page" invariant from the start.
func (d *Document) CreateWithPage(pageID string) error {
	return d.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		listID := pageID + ":children"
		page := Block{ID: pageID, Type: "page", Children: listID, Data: map[string]any{}}
		txn.MapSet(rootBlocks, pageID, page.asMap())
		txn.MapSet(rootMeta, metaPageID, pageID)
		txn.ArrayValues(childrenRoot(listID)) // ensure the list root exists even when empty
		return nil
	})
}

func (d *Document) PageID() (string, error) {
	var id string
	err := d.collab.ReadTxn(func(txn *crdt.Txn) error {
		v, ok := txn.MapGet(rootMeta, metaPageID)
		if !ok {
			return collaberr.NoRequiredData("page_id")
		}
		id, _ = v.(string)
		return nil
	})
	return id, err
}

// InsertBlock inserts block into blocks and appends/inserts its id into
// parent's children list after prevSibling (or at the end if empty).
// BlockAlreadyExists/ParentIsNotFound map to collaberr's AlreadyExists
// and NotFound kinds respectively.
func (d *Document) InsertBlock(block Block, prevSibling string) (Block, error) {
	err := d.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		if _, ok := txn.MapGet(rootBlocks, block.ID); ok {
			return collaberr.WrapAlreadyExists(fmt.Sprintf("block %s already exists", block.ID))
		}
		parent, ok := txn.MapGet(rootBlocks, block.Parent)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("parent block %s not found", block.Parent))
		}
		parentBlock, _ := blockFromMap(parent)

		if block.Children == "" {
			block.Children = block.ID + ":children"
		}
		txn.MapSet(rootBlocks, block.ID, block.asMap())

		idx := insertionIndex(txn, childrenRoot(parentBlock.Children), prevSibling)
		txn.ArrayInsert(childrenRoot(parentBlock.Children), idx, block.ID)

		if block.ExternalType == "text" && block.ExternalID != "" {
			txn.TextInsert(textRoot(block.ExternalID), 0, "", nil)
		}
		return nil
	})
	if err != nil {
		return Block{}, err
	}
	return block, nil
}

func insertionIndex(txn *crdt.Txn, listRoot, prevSibling string) int {
	if prevSibling == "" {
		return txn.ArrayLen(listRoot)
	}
	values := txn.ArrayValues(listRoot)
	for i, v := range values {
		if s, ok := v.(string); ok && s == prevSibling {
			return i + 1
		}
	}
	return txn.ArrayLen(listRoot)
}

// DeleteBlock recursively removes id and its descendants, detaches it
// from its parent's children list, and deletes its text entry if any.
func (d *Document) DeleteBlock(id string) error {
	return d.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		return deleteBlockRecursive(txn, id)
	})
}

func deleteBlockRecursive(txn *crdt.Txn, id string) error {
	raw, ok := txn.MapGet(rootBlocks, id)
	if !ok {
		return collaberr.WrapNotFound(fmt.Sprintf("block %s not found", id))
	}
	block, _ := blockFromMap(raw)

	for _, childID := range childrenOf(txn, block.Children) {
		if err := deleteBlockRecursive(txn, childID); err != nil {
			return err
		}
	}

	if block.Parent != "" {
		if parentRaw, ok := txn.MapGet(rootBlocks, block.Parent); ok {
			parentBlock, _ := blockFromMap(parentRaw)
			removeFromChildren(txn, childrenRoot(parentBlock.Children), id)
		}
	}

	if block.ExternalType == "text" && block.ExternalID != "" {
		n := txn.TextLen(textRoot(block.ExternalID))
		if n > 0 {
			txn.TextDelete(textRoot(block.ExternalID), 0, n)
		}
	}

	txn.MapDelete(rootBlocks, id)
	return nil
}

func childrenOf(txn *crdt.Txn, listID string) []string {
	values := txn.ArrayValues(childrenRoot(listID))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func removeFromChildren(txn *crdt.Txn, listRoot, id string) {
	values := txn.ArrayValues(listRoot)
	for i, v := range values {
		if s, ok := v.(string); ok && s == id {
			txn.ArrayDelete(listRoot, i)
			return
		}
	}
}

// MoveBlock atomically re-parents id under newParent, after prevSibling
// (or at the end). Preserves acyclicity by refusing to move a block
// underneath its own descendant.
func (d *Document) MoveBlock(id, newParent, prevSibling string) error {
	return d.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootBlocks, id)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("block %s not found", id))
		}
		block, _ := blockFromMap(raw)

		if isDescendant(txn, id, newParent) {
			return collaberr.Wrap(collaberr.KindInvalidObject, "move would create a cycle", nil)
		}

		newParentRaw, ok := txn.MapGet(rootBlocks, newParent)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("parent block %s not found", newParent))
		}
		newParentBlock, _ := blockFromMap(newParentRaw)

		if oldParentRaw, ok := txn.MapGet(rootBlocks, block.Parent); ok {
			oldParentBlock, _ := blockFromMap(oldParentRaw)
			removeFromChildren(txn, childrenRoot(oldParentBlock.Children), id)
		}

		block.Parent = newParent
		txn.MapSet(rootBlocks, id, block.asMap())

		idx := insertionIndex(txn, childrenRoot(newParentBlock.Children), prevSibling)
		txn.ArrayInsert(childrenRoot(newParentBlock.Children), idx, id)
		return nil
	})
}

func isDescendant(txn *crdt.Txn, ancestorID, candidateID string) bool {
	if ancestorID == candidateID {
		return true
	}
	raw, ok := txn.MapGet(rootBlocks, ancestorID)
	if !ok {
		return false
	}
	block, _ := blockFromMap(raw)
	for _, childID := range childrenOf(txn, block.Children) {
		if isDescendant(txn, childID, candidateID) {
			return true
		}
	}
	return false
}

// TextAction is one of the delegated text-primitive actions a text block
// supports.
type TextAction struct {
	Kind  string // insert, insert_with_attr, remove, format, push
	Index int
	Len   int
	Text  string
	Attrs map[string]any
}

// ApplyTextActions runs actions against textID's delta inside one write
// transaction.
func (d *Document) ApplyTextActions(textID string, actions []TextAction) error {
	return d.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		root := textRoot(textID)
		for _, a := range actions {
			switch a.Kind {
			case "insert":
				txn.TextInsert(root, a.Index, a.Text, nil)
			case "insert_with_attr":
				txn.TextInsert(root, a.Index, a.Text, a.Attrs)
			case "remove":
				txn.TextDelete(root, a.Index, a.Len)
			case "format":
				txn.TextFormat(root, a.Index, a.Len, a.Attrs)
			case "push":
				txn.TextPush(root, a.Text, a.Attrs)
			default:
				return collaberr.Wrap(collaberr.KindInvalidObject, "unknown text action "+a.Kind, nil)
			}
		}
		return nil
	})
}

// GetPlainTextFromBlock returns the plain-text contents of a text block.
func (d *Document) GetPlainTextFromBlock(id string) (string, error) {
	var out string
	err := d.collab.ReadTxn(func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootBlocks, id)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("block %s not found", id))
		}
		block, _ := blockFromMap(raw)
		if block.ExternalType != "text" || block.ExternalID == "" {
			return nil
		}
		out = plainTextOf(txn, block.ExternalID)
		return nil
	})
	return out, err
}

func plainTextOf(txn *crdt.Txn, textID string) string {
	var sb []byte
	for _, seg := range txn.TextDelta(textRoot(textID)) {
		sb = append(sb, seg.Insert...)
	}
	return string(sb)
}

// ConvertDocumentToPlainText exports every block's text, depth-first from
// the page, one line per text-bearing block.
func (d *Document) ConvertDocumentToPlainText() (string, error) {
	var out string
	err := d.collab.ReadTxn(func(txn *crdt.Txn) error {
		pageID, ok := txn.MapGet(rootMeta, metaPageID)
		if !ok {
			return collaberr.NoRequiredData("page_id")
		}
		lines := collectPlainText(txn, pageID.(string))
		out = joinLines(lines)
		return nil
	})
	return out, err
}

func collectPlainText(txn *crdt.Txn, blockID string) []string {
	raw, ok := txn.MapGet(rootBlocks, blockID)
	if !ok {
		return nil
	}
	block, _ := blockFromMap(raw)

	var lines []string
	if block.ExternalType == "text" && block.ExternalID != "" {
		if text := plainTextOf(txn, block.ExternalID); text != "" {
			lines = append(lines, text)
		}
	}
	for _, childID := range childrenOf(txn, block.Children) {
		lines = append(lines, collectPlainText(txn, childID)...)
	}
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Observe registers fn for block-tree change notifications.
func (d *Document) Observe(fn func(Event)) func() {
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Document) translate(txn *crdt.Txn, events []crdt.Event) {
	d.mu.Lock()
	subs := make([]func(Event), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	for _, ev := range events {
		for _, out := range translateEvent(ev) {
			for _, fn := range subs {
				fn(out)
			}
		}
	}
}

func translateEvent(ev crdt.Event) []Event {
	switch ev.Kind {
	case crdt.EventMap:
		if ev.Root != rootBlocks {
			return nil
		}
		out := make([]Event, 0, len(ev.Map))
		for _, ch := range ev.Map {
			kind := "updated"
			switch ch.Kind {
			case crdt.Inserted:
				kind = "inserted"
			case crdt.Removed:
				kind = "removed"
			}
			out = append(out, Event{BlockID: ch.Key, Kind: kind})
		}
		return out
	case crdt.EventArray:
		return []Event{{Kind: "children_changed"}}
	case crdt.EventText:
		return []Event{{Kind: "text_changed"}}
	default:
		return nil
	}
}
