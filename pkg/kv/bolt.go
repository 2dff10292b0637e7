package kv

import (
	"bytes"
	"math"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/collabrt/collab/pkg/collaberr"
)

var bucketName = []byte("collab")

// BoltStore is the bbolt-backed Store implementation (spec §4.1).
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) a BoltStore at <dataDir>/collab.db.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "collab.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, collaberr.WrapStorage(collaberr.StorageIO, "failed to open kv store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, collaberr.WrapStorage(collaberr.StorageCorruption, "failed to create bucket", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, collaberr.WrapStorage(collaberr.StorageIO, "get failed", err)
	}
	return val, val != nil, nil
}

func (s *BoltStore) Insert(key, val []byte) ([]byte, error) {
	var prior []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if p := b.Get(key); p != nil {
			prior = append([]byte(nil), p...)
		}
		return b.Put(key, val)
	})
	if err != nil {
		return nil, collaberr.WrapStorage(collaberr.StorageIO, "insert failed", err)
	}
	return prior, nil
}

func (s *BoltStore) Remove(key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
	if err != nil {
		return collaberr.WrapStorage(collaberr.StorageIO, "remove failed", err)
	}
	return nil
}

func (s *BoltStore) RemoveRange(from, to []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return removeRange(tx.Bucket(bucketName), from, to)
	})
	if err != nil {
		return collaberr.WrapStorage(collaberr.StorageIO, "remove range failed", err)
	}
	return nil
}

func (s *BoltStore) IterRange(from, to []byte, fn func(Entry) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return iterRange(tx.Bucket(bucketName), from, to, fn)
	})
	if err != nil {
		return collaberr.WrapStorage(collaberr.StorageIO, "iter range failed", err)
	}
	return nil
}

func (s *BoltStore) NextBackEntry(key []byte) (Entry, bool, error) {
	var (
		e     Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		e, found = nextBackEntry(tx.Bucket(bucketName), key)
		return nil
	})
	if err != nil {
		return Entry{}, false, collaberr.WrapStorage(collaberr.StorageIO, "next back entry failed", err)
	}
	return e, found, nil
}

// WithWriteTxn gives fn exclusive write access to the store, atomically.
func (s *BoltStore) WithWriteTxn(fn func(Txn) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTxn{b: tx.Bucket(bucketName)})
	})
	if err != nil {
		if _, ok := err.(*collaberr.Error); ok {
			return err
		}
		return collaberr.WrapStorage(collaberr.StorageIO, "write txn failed", err)
	}
	return nil
}

// boltTxn implements Txn against a live *bolt.Bucket, scoped to one
// WithWriteTxn call.
type boltTxn struct {
	b *bolt.Bucket
}

func (t *boltTxn) Get(key []byte) ([]byte, bool, error) {
	v := t.b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *boltTxn) Insert(key, val []byte) ([]byte, error) {
	var prior []byte
	if p := t.b.Get(key); p != nil {
		prior = append([]byte(nil), p...)
	}
	if err := t.b.Put(key, val); err != nil {
		return nil, err
	}
	return prior, nil
}

func (t *boltTxn) Remove(key []byte) error {
	return t.b.Delete(key)
}

func (t *boltTxn) RemoveRange(from, to []byte) error {
	return removeRange(t.b, from, to)
}

func (t *boltTxn) IterRange(from, to []byte, fn func(Entry) error) error {
	return iterRange(t.b, from, to, fn)
}

func (t *boltTxn) NextBackEntry(key []byte) (Entry, bool, error) {
	e, found := nextBackEntry(t.b, key)
	return e, found, nil
}

// NextHandle hands out bbolt's own per-bucket sequence counter, which it
// persists as part of the enclosing transaction: monotonic and durable
// with no extra bookkeeping of our own.
func (t *boltTxn) NextHandle() (uint32, error) {
	seq, err := t.b.NextSequence()
	if err != nil {
		return 0, err
	}
	if seq > math.MaxUint32 {
		return 0, collaberr.Wrap(collaberr.KindStorage, "doc handle counter exhausted", nil)
	}
	return uint32(seq), nil
}

// iterRange walks [from, to] inclusive in ascending key order.
func iterRange(b *bolt.Bucket, from, to []byte, fn func(Entry) error) error {
	c := b.Cursor()
	for k, v := c.Seek(from); k != nil && bytes.Compare(k, to) <= 0; k, v = c.Next() {
		entry := Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// removeRange deletes every key in [from, to] inclusive.
func removeRange(b *bolt.Bucket, from, to []byte) error {
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(from); k != nil && bytes.Compare(k, to) <= 0; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// nextBackEntry returns the entry strictly less than key, if any.
func nextBackEntry(b *bolt.Bucket, key []byte) (Entry, bool) {
	c := b.Cursor()
	k, v := c.Seek(key)
	if k == nil {
		// key is past the end; last entry in the bucket is the predecessor.
		k, v = c.Last()
	} else if bytes.Equal(k, key) {
		k, v = c.Prev()
	} else {
		k, v = c.Prev()
	}
	if k == nil {
		return Entry{}, false
	}
	return Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}, true
}
