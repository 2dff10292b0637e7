// Package folder implements the workspace/view-hierarchy overlay over
// a Collab's CRDT state (spec §3/§4.7): a workspace root, a flat view
// map, a parent→children relation kept separate from each view's own
// children list, and per-uid favorite/recent/trash/private sections.
package folder

import (
	"fmt"
	"sync"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/crdt"
)

const (
	rootWorkspace = "workspace"
	rootViews     = "views"
	rootMeta      = "meta"
	rootSection   = "section"

	metaWorkspaceID = "workspace_id"

	sectionFavoriteV1 = "favorite_v1"
	sectionFavoriteV2 = "favorite_v2"
	sectionRecent     = "recent"
	sectionTrash      = "trash"
	sectionPrivate    = "private"
)

func relationRoot(parentID string) string { return "relation:" + parentID }

// sectionKey builds the shared rootSection map key for one uid/kind/view
// triple, keeping every uid's section state in one enumerable root so a
// view deletion can strip it from every uid's sections without knowing
// which uids exist ahead of time.
func sectionKey(uid int64, kind, viewID string) string {
	return fmt.Sprintf("%d:%s:%s", uid, kind, viewID)
}

func sectionPrefix(uid int64, kind string) string {
	return fmt.Sprintf("%d:%s:", uid, kind)
}

// SpacePermission is the visibility of a "space" root view.
type SpacePermission string

const (
	PublicToAll SpacePermission = "PublicToAll"
	Private     SpacePermission = "Private"
)

// SpaceInfo is the extra payload carried by a root-level space view.
type SpaceInfo struct {
	IsSpace         bool            `json:"is_space"`
	SpacePermission SpacePermission `json:"space_permission,omitempty"`
}

// View mirrors spec.md's Folder View shape.
type View struct {
	ID            string
	ParentViewID  string
	Name          string
	Children      []string
	CreatedAt     int64
	IsFavorite    bool
	Layout        string
	Icon          string
	Extra         *SpaceInfo
}

func (v View) asMap() map[string]any {
	children := make([]any, 0, len(v.Children))
	for _, c := range v.Children {
		children = append(children, c)
	}
	m := map[string]any{
		"id":             v.ID,
		"parent_view_id": v.ParentViewID,
		"name":           v.Name,
		"children":       children,
		"created_at":     v.CreatedAt,
		"is_favorite":    v.IsFavorite,
		"layout":         v.Layout,
		"icon":           v.Icon,
	}
	if v.Extra != nil {
		m["extra"] = map[string]any{
			"is_space":         v.Extra.IsSpace,
			"space_permission": string(v.Extra.SpacePermission),
		}
	}
	return m
}

func viewFromMap(raw any) (View, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return View{}, false
	}
	v := View{}
	v.ID, _ = m["id"].(string)
	v.ParentViewID, _ = m["parent_view_id"].(string)
	v.Name, _ = m["name"].(string)
	v.Layout, _ = m["layout"].(string)
	v.Icon, _ = m["icon"].(string)
	v.IsFavorite, _ = m["is_favorite"].(bool)
	if ca, ok := m["created_at"].(int64); ok {
		v.CreatedAt = ca
	} else if ca, ok := m["created_at"].(float64); ok {
		v.CreatedAt = int64(ca)
	}
	if children, ok := m["children"].([]any); ok {
		for _, c := range children {
			if s, ok := c.(string); ok {
				v.Children = append(v.Children, s)
			}
		}
	}
	if extra, ok := m["extra"].(map[string]any); ok {
		isSpace, _ := extra["is_space"].(bool)
		perm, _ := extra["space_permission"].(string)
		v.Extra = &SpaceInfo{IsSpace: isSpace, SpacePermission: SpacePermission(perm)}
	}
	return v, true
}

// SectionItem is one entry in a per-uid favorite/recent/trash/private
// list, carrying the timestamp its last-writer-wins merge needs.
type SectionItem struct {
	ViewID    string
	Timestamp int64
}

// Event is a change notification translated from a raw CRDT event.
type Event struct {
	ViewID string
	Kind   string // inserted, updated, removed
}

// Folder is the typed workspace/view-hierarchy view over one Collab
// object.
type Folder struct {
	collab *collab.Collab

	mu   sync.Mutex
	subs map[uint64]func(Event)
	next uint64
}

func New(c *collab.Collab) *Folder {
	f := &Folder{collab: c, subs: make(map[uint64]func(Event))}
	c.Observe(f.translate)
	return f
}

// CreateWorkspace initializes an empty folder with a named workspace
// root and no views.
func (f *Folder) CreateWorkspace(workspaceID, name string, createdAt int64) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		txn.MapSet(rootWorkspace, "id", workspaceID)
		txn.MapSet(rootWorkspace, "name", name)
		txn.MapSet(rootWorkspace, "created_at", createdAt)
		txn.MapSet(rootMeta, metaWorkspaceID, workspaceID)
		txn.ArrayValues(relationRoot(workspaceID))
		return nil
	})
}

func (f *Folder) WorkspaceID() (string, error) {
	var id string
	err := f.collab.ReadTxn(func(txn *crdt.Txn) error {
		v, ok := txn.MapGet(rootMeta, metaWorkspaceID)
		if !ok {
			return collaberr.NoRequiredData("workspace_id")
		}
		id, _ = v.(string)
		return nil
	})
	return id, err
}

// InsertView inserts view under parentID's relation list (or the
// workspace's, if parentID is empty or equals the workspace id), after
// prevSibling (or at the end). Duplicate-free per the invariant that a
// child appears at most once in its parent's relation list.
func (f *Folder) InsertView(view View, prevSibling string) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		if _, ok := txn.MapGet(rootViews, view.ID); ok {
			return collaberr.WrapAlreadyExists(fmt.Sprintf("view %s already exists", view.ID))
		}
		parent := view.ParentViewID
		if parent == "" {
			if wsID, ok := txn.MapGet(rootWorkspace, "id"); ok {
				parent, _ = wsID.(string)
				view.ParentViewID = parent
			}
		}
		if parent != "" {
			if _, ok := txn.MapGet(rootViews, parent); !ok {
				wsID, _ := txn.MapGet(rootWorkspace, "id")
				if wsID != parent {
					return collaberr.WrapNotFound(fmt.Sprintf("parent view %s not found", parent))
				}
			}
		}
		txn.MapSet(rootViews, view.ID, view.asMap())
		if alreadyInRelation(txn, relationRoot(parent), view.ID) {
			return nil
		}
		idx := siblingIndex(txn, relationRoot(parent), prevSibling)
		txn.ArrayInsert(relationRoot(parent), idx, view.ID)
		return nil
	})
}

func alreadyInRelation(txn *crdt.Txn, listRoot, id string) bool {
	for _, v := range txn.ArrayValues(listRoot) {
		if s, ok := v.(string); ok && s == id {
			return true
		}
	}
	return false
}

func siblingIndex(txn *crdt.Txn, listRoot, prevSibling string) int {
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

// UpdateView runs mutate against the current view value.
func (f *Folder) UpdateView(id string, mutate func(*View)) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootViews, id)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("view %s not found", id))
		}
		v, _ := viewFromMap(raw)
		mutate(&v)
		txn.MapSet(rootViews, id, v.asMap())
		return nil
	})
}

// DeleteView removes id, strips it from its parent's relation list and
// from every uid's section lists, and recursively deletes its
// descendants.
func (f *Folder) DeleteView(id string) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		return deleteViewRecursive(txn, id)
	})
}

func deleteViewRecursive(txn *crdt.Txn, id string) error {
	raw, ok := txn.MapGet(rootViews, id)
	if !ok {
		return collaberr.WrapNotFound(fmt.Sprintf("view %s not found", id))
	}
	v, _ := viewFromMap(raw)

	for _, childID := range relationChildren(txn, id) {
		if err := deleteViewRecursive(txn, childID); err != nil {
			return err
		}
	}

	removeFromRelation(txn, relationRoot(v.ParentViewID), id)
	stripFromAllSections(txn, id)
	txn.MapDelete(rootViews, id)
	return nil
}

func relationChildren(txn *crdt.Txn, parentID string) []string {
	values := txn.ArrayValues(relationRoot(parentID))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func removeFromRelation(txn *crdt.Txn, listRoot, id string) {
	values := txn.ArrayValues(listRoot)
	for i, v := range values {
		if s, ok := v.(string); ok && s == id {
			txn.ArrayDelete(listRoot, i)
			return
		}
	}
}

func stripFromAllSections(txn *crdt.Txn, viewID string) {
	suffix := ":" + viewID
	for _, key := range txn.MapKeys(rootSection) {
		if hasSuffix(key, suffix) {
			txn.MapDelete(rootSection, key)
		}
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MoveView reparents id under newParent, after prevSibling (or at the
// end), refusing moves that would create a cycle.
func (f *Folder) MoveView(id, newParent, prevSibling string) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		raw, ok := txn.MapGet(rootViews, id)
		if !ok {
			return collaberr.WrapNotFound(fmt.Sprintf("view %s not found", id))
		}
		v, _ := viewFromMap(raw)

		if isDescendant(txn, id, newParent) {
			return collaberr.Wrap(collaberr.KindInvalidObject, "move would create a cycle", nil)
		}

		removeFromRelation(txn, relationRoot(v.ParentViewID), id)
		v.ParentViewID = newParent
		txn.MapSet(rootViews, id, v.asMap())

		idx := siblingIndex(txn, relationRoot(newParent), prevSibling)
		txn.ArrayInsert(relationRoot(newParent), idx, id)
		return nil
	})
}

func isDescendant(txn *crdt.Txn, ancestorID, candidateID string) bool {
	if ancestorID == candidateID {
		return true
	}
	for _, childID := range relationChildren(txn, ancestorID) {
		if isDescendant(txn, childID, candidateID) {
			return true
		}
	}
	return false
}

func (f *Folder) putSection(uid int64, kind, viewID string, timestamp int64) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		key := sectionKey(uid, kind, viewID)
		if existing, ok := txn.MapGet(rootSection, key); ok {
			if m, ok := existing.(map[string]any); ok {
				if ts, ok := m["timestamp"].(int64); ok && ts >= timestamp {
					return nil
				}
			}
		}
		txn.MapSet(rootSection, key, map[string]any{"view_id": viewID, "timestamp": timestamp})
		return nil
	})
}

// AddFavorite marks viewID as a favorite for uid, writing into
// FAVORITES_V2 (the per-uid map). FAVORITES_V1 is read-only.
func (f *Folder) AddFavorite(uid int64, viewID string, timestamp int64) error {
	return f.putSection(uid, sectionFavoriteV2, viewID, timestamp)
}

// RemoveFavorite clears viewID's favorite entry for uid from V2.
func (f *Folder) RemoveFavorite(uid int64, viewID string) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		txn.MapDelete(rootSection, sectionKey(uid, sectionFavoriteV2, viewID))
		return nil
	})
}

// MoveToTrash marks viewID trashed for uid.
func (f *Folder) MoveToTrash(uid int64, viewID string, timestamp int64) error {
	return f.putSection(uid, sectionTrash, viewID, timestamp)
}

// AddRecent records viewID as recently visited for uid.
func (f *Folder) AddRecent(uid int64, viewID string, timestamp int64) error {
	return f.putSection(uid, sectionRecent, viewID, timestamp)
}

// AddPrivate marks viewID private for uid.
func (f *Folder) AddPrivate(uid int64, viewID string, timestamp int64) error {
	return f.putSection(uid, sectionPrivate, viewID, timestamp)
}

// sectionViewIDs returns every view id present in uid's kind section,
// ordered by insertion timestamp ascending.
func (f *Folder) sectionViewIDs(uid int64, kind string) ([]SectionItem, error) {
	var out []SectionItem
	prefix := sectionPrefix(uid, kind)
	err := f.collab.ReadTxn(func(txn *crdt.Txn) error {
		for _, key := range txn.MapKeys(rootSection) {
			if !hasPrefix(key, prefix) {
				continue
			}
			raw, ok := txn.MapGet(rootSection, key)
			if !ok {
				continue
			}
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			viewID, _ := m["view_id"].(string)
			var ts int64
			if v, ok := m["timestamp"].(int64); ok {
				ts = v
			}
			out = append(out, SectionItem{ViewID: viewID, Timestamp: ts})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByTimestamp(out)
	return out, nil
}

func sortByTimestamp(items []SectionItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Timestamp < items[j-1].Timestamp; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// GetFavoritesV1 reads the read-only legacy ordered array, if present.
func (f *Folder) GetFavoritesV1() ([]string, error) {
	var out []string
	err := f.collab.ReadTxn(func(txn *crdt.Txn) error {
		values := txn.ArrayValues(sectionFavoriteV1)
		for _, v := range values {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}

// GetFavorites returns the uid's favorites. If FAVORITES_V2 has no
// entries and FAVORITES_V1 does, this first runs the one-time
// migration into V2 and then returns the migrated result, matching
// spec.md §4.7's "V2 wins when both exist" rule once migration has run.
func (f *Folder) GetFavorites(uid int64) ([]SectionItem, error) {
	items, err := f.sectionViewIDs(uid, sectionFavoriteV2)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}
	v1, err := f.GetFavoritesV1()
	if err != nil {
		return nil, err
	}
	if len(v1) == 0 {
		return nil, nil
	}
	if err := f.migrateFavoritesV1(uid, v1); err != nil {
		return nil, err
	}
	return f.sectionViewIDs(uid, sectionFavoriteV2)
}

func (f *Folder) migrateFavoritesV1(uid int64, v1 []string) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		for i, viewID := range v1 {
			key := sectionKey(uid, sectionFavoriteV2, viewID)
			if _, ok := txn.MapGet(rootSection, key); ok {
				continue
			}
			txn.MapSet(rootSection, key, map[string]any{"view_id": viewID, "timestamp": int64(i)})
		}
		return nil
	})
}

// SetCurrentView sets uid's last-writer-wins current view pointer.
func (f *Folder) SetCurrentView(uid int64, viewID string) error {
	return f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		txn.MapSet("current_view", fmt.Sprintf("%d", uid), viewID)
		return nil
	})
}

func (f *Folder) CurrentView(uid int64) (string, error) {
	var id string
	err := f.collab.ReadTxn(func(txn *crdt.Txn) error {
		v, ok := txn.MapGet("current_view", fmt.Sprintf("%d", uid))
		if !ok {
			return collaberr.NoRequiredData("current_view")
		}
		id, _ = v.(string)
		return nil
	})
	return id, err
}

// Observe registers fn for view change notifications.
func (f *Folder) Observe(fn func(Event)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *Folder) translate(txn *crdt.Txn, events []crdt.Event) {
	f.mu.Lock()
	subs := make([]func(Event), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	for _, ev := range events {
		if ev.Kind != crdt.EventMap || ev.Root != rootViews {
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
			out := Event{ViewID: ch.Key, Kind: kind}
			for _, fn := range subs {
				fn(out)
			}
		}
	}
}
