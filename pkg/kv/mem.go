package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests that don't need bbolt's
// durability, keeping the same ordered byte-key semantics as BoltStore.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
	seq  uint32
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) Get(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemStore) Insert(key, val []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.data[string(key)]
	s.data[string(key)] = append([]byte(nil), val...)
	if !ok {
		return nil, nil
	}
	return prior, nil
}

func (s *MemStore) Remove(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *MemStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemStore) RemoveRange(from, to []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.sortedKeys() {
		kb := []byte(k)
		if bytes.Compare(kb, from) >= 0 && bytes.Compare(kb, to) <= 0 {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemStore) IterRange(from, to []byte, fn func(Entry) error) error {
	s.mu.Lock()
	keys := s.sortedKeys()
	s.mu.Unlock()
	for _, k := range keys {
		kb := []byte(k)
		if bytes.Compare(kb, from) < 0 || bytes.Compare(kb, to) > 0 {
			continue
		}
		s.mu.Lock()
		v, ok := s.data[k]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(Entry{Key: kb, Value: append([]byte(nil), v...)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) NextBackEntry(key []byte) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best string
	found := false
	for _, k := range s.sortedKeys() {
		if bytes.Compare([]byte(k), key) >= 0 {
			break
		}
		best = k
		found = true
	}
	if !found {
		return Entry{}, false, nil
	}
	return Entry{Key: []byte(best), Value: append([]byte(nil), s.data[best]...)}, true, nil
}

// NextHandle hands out a monotonic counter local to this store, mirroring
// BoltStore's use of bbolt's per-bucket sequence.
func (s *MemStore) NextHandle() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

// WithWriteTxn calls fn directly against the store. Each operation takes
// the store's mutex on its own, so fn gets no exclusive access across
// operations, other goroutines can see its writes before it returns, and
// nothing is rolled back when fn returns an error.
func (s *MemStore) WithWriteTxn(fn func(Txn) error) error {
	return fn(s)
}
