package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/kv"
)

func TestIndex_EnsureHandleIsStableAcrossCalls(t *testing.T) {
	store := kv.NewMemStore()
	idx := NewIndex(store)

	h1, created1, err := idx.EnsureHandle(10, "ws-1", "document:abc")
	require.NoError(t, err)
	assert.True(t, created1)

	h2, created2, err := idx.EnsureHandle(10, "ws-1", "document:abc")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, h1, h2)
}

func TestIndex_DistinctKeysGetDistinctHandles(t *testing.T) {
	store := kv.NewMemStore()
	idx := NewIndex(store)

	h1, _, err := idx.EnsureHandle(10, "ws-1", "document:a")
	require.NoError(t, err)
	h2, _, err := idx.EnsureHandle(10, "ws-1", "document:b")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestIndex_LookupNotFound(t *testing.T) {
	store := kv.NewMemStore()
	idx := NewIndex(store)

	_, err := idx.Lookup(10, "ws-1", "document:missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, collaberr.NotFound))
}

func TestIndex_LookupAfterEnsure(t *testing.T) {
	store := kv.NewMemStore()
	idx := NewIndex(store)

	h1, _, err := idx.EnsureHandle(10, "ws-1", "document:abc")
	require.NoError(t, err)

	h2, err := idx.Lookup(10, "ws-1", "document:abc")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
