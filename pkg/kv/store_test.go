package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"mem":  NewMemStore(),
		"bolt": newTestBoltStore(t),
	}
}

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GetInsertRemove(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Get([]byte("a"))
			require.NoError(t, err)
			assert.False(t, found)

			prior, err := s.Insert([]byte("a"), []byte("1"))
			require.NoError(t, err)
			assert.Nil(t, prior)

			prior, err = s.Insert([]byte("a"), []byte("2"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), prior)

			v, found, err := s.Get([]byte("a"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte("2"), v)

			require.NoError(t, s.Remove([]byte("a")))
			_, found, err = s.Get([]byte("a"))
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_IterRangeAscending(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{"a1", "a2", "a3", "b1"}
			for _, k := range keys {
				_, err := s.Insert([]byte(k), []byte(k))
				require.NoError(t, err)
			}

			var got []string
			err := s.IterRange([]byte("a0"), []byte("a9"), func(e Entry) error {
				got = append(got, string(e.Key))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a1", "a2", "a3"}, got)
		})
	}
}

func TestStore_RemoveRange(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a1", "a2", "a3", "b1"} {
				_, err := s.Insert([]byte(k), []byte(k))
				require.NoError(t, err)
			}
			require.NoError(t, s.RemoveRange([]byte("a0"), []byte("a9")))

			var remaining []string
			err := s.IterRange([]byte{0x00}, []byte{0xFF}, func(e Entry) error {
				remaining = append(remaining, string(e.Key))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"b1"}, remaining)
		})
	}
}

func TestStore_NextBackEntry(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "c", "e"} {
				_, err := s.Insert([]byte(k), []byte(k))
				require.NoError(t, err)
			}

			e, found, err := s.NextBackEntry([]byte("d"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "c", string(e.Key))

			_, found, err = s.NextBackEntry([]byte("a"))
			require.NoError(t, err)
			assert.False(t, found)

			e, found, err = s.NextBackEntry([]byte("z"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "e", string(e.Key))
		})
	}
}

func TestStore_WithWriteTxnAtomic(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.WithWriteTxn(func(txn Txn) error {
				if _, err := txn.Insert([]byte("x"), []byte("1")); err != nil {
					return err
				}
				_, err := txn.Insert([]byte("y"), []byte("2"))
				return err
			})
			require.NoError(t, err)

			v, found, err := s.Get([]byte("x"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte("1"), v)
		})
	}
}
