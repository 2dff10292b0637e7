package folder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
)

func newTestFolder(t *testing.T) *Folder {
	t.Helper()
	objectID := collab.ObjectID{Type: collab.TypeFolder, Value: "folder-1"}
	c, err := collab.New(objectID, "client-1", 1, collab.EmptySource(), nil)
	require.NoError(t, err)
	f := New(c)
	require.NoError(t, f.CreateWorkspace("ws-1", "My Workspace", 1000))
	return f
}

func TestFolder_InsertViewUnderWorkspace(t *testing.T) {
	f := newTestFolder(t)
	require.NoError(t, f.InsertView(View{ID: "v1", ParentViewID: "ws-1", Name: "Doc 1"}, ""))
	require.NoError(t, f.InsertView(View{ID: "v2", ParentViewID: "ws-1", Name: "Doc 2"}, "v1"))

	var children []string
	err := f.collab.ReadTxn(func(txn *crdt.Txn) error {
		children = relationChildren(txn, "ws-1")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, children)
}

func TestFolder_DeleteViewCascadesChildrenAndSections(t *testing.T) {
	f := newTestFolder(t)
	require.NoError(t, f.InsertView(View{ID: "v1", ParentViewID: "ws-1", Name: "Parent"}, ""))
	require.NoError(t, f.InsertView(View{ID: "v2", ParentViewID: "v1", Name: "Child"}, ""))
	require.NoError(t, f.AddFavorite(1, "v2", 10))

	require.NoError(t, f.DeleteView("v1"))

	var exists bool
	err := f.collab.ReadTxn(func(txn *crdt.Txn) error {
		_, exists = txn.MapGet(rootViews, "v2")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, exists)

	favs, err := f.GetFavorites(1)
	require.NoError(t, err)
	assert.Empty(t, favs)
}

func TestFolder_MoveViewRejectsCycle(t *testing.T) {
	f := newTestFolder(t)
	require.NoError(t, f.InsertView(View{ID: "v1", ParentViewID: "ws-1", Name: "A"}, ""))
	require.NoError(t, f.InsertView(View{ID: "v2", ParentViewID: "v1", Name: "B"}, ""))

	err := f.MoveView("v1", "v2", "")
	require.Error(t, err)
}

func TestFolder_FavoritesV1MigratesIntoV2OnFirstRead(t *testing.T) {
	f := newTestFolder(t)
	require.NoError(t, f.InsertView(View{ID: "a", ParentViewID: "ws-1", Name: "A"}, ""))
	require.NoError(t, f.InsertView(View{ID: "b", ParentViewID: "ws-1", Name: "B"}, ""))
	require.NoError(t, f.InsertView(View{ID: "c", ParentViewID: "ws-1", Name: "C"}, ""))

	err := f.collab.WriteTxn(collab.EmptyOrigin, func(txn *crdt.Txn) error {
		txn.ArrayInsert(sectionFavoriteV1, 0, "a")
		txn.ArrayInsert(sectionFavoriteV1, 1, "b")
		txn.ArrayInsert(sectionFavoriteV1, 2, "c")
		return nil
	})
	require.NoError(t, err)

	v1, err := f.GetFavoritesV1()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, v1)

	favs, err := f.GetFavorites(1)
	require.NoError(t, err)
	require.Len(t, favs, 3)
	assert.Equal(t, "a", favs[0].ViewID)
	assert.Equal(t, "c", favs[2].ViewID)

	require.NoError(t, f.AddFavorite(1, "d", 100))
	favs, err = f.GetFavorites(1)
	require.NoError(t, err)
	assert.Len(t, favs, 4)
}

func TestFolder_SetAndGetCurrentView(t *testing.T) {
	f := newTestFolder(t)
	require.NoError(t, f.SetCurrentView(1, "v1"))
	v, err := f.CurrentView(1)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestFolder_ObserveFiresOnViewInsert(t *testing.T) {
	f := newTestFolder(t)
	var events []Event
	unsub := f.Observe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	require.NoError(t, f.InsertView(View{ID: "v1", ParentViewID: "ws-1", Name: "A"}, ""))
	require.NotEmpty(t, events)
	assert.Equal(t, "v1", events[0].ViewID)
}
