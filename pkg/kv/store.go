/*
Package kv implements the embedded, ordered byte-key/byte-value store that
backs every Collab object's CRDT state (spec §4.1).

# Architecture

	┌─────────────────────────── KV STORE ───────────────────────────┐
	│                                                                  │
	│  ┌────────────────────────────────────────────┐                │
	│  │               BoltStore                      │                │
	│  │  - File: <dataDir>/collab.db                 │                │
	│  │  - Single bucket, byte-ordered keys          │                │
	│  │  - Transactions: ACID with fsync             │                │
	│  └──────────────────┬───────────────────────────┘                │
	│                     │                                            │
	│  ┌──────────────────▼───────────────────────────┐                │
	│  │             Key layout (§6)                    │              │
	│  │  prefix(1B) || doc_handle(4B BE) || sub || clock │            │
	│  │  DOC_INDEX | DOC_UPDATE | DOC_SNAPSHOT | AWARENESS | SECONDARY│
	│  └──────────────────┬───────────────────────────┘                │
	│                     │                                            │
	│  ┌──────────────────▼───────────────────────────┐                │
	│  │          Ops: Get/Insert/Remove/RemoveRange/  │                │
	│  │          IterRange/NextBackEntry/WithWriteTxn │                │
	│  └────────────────────────────────────────────────┘              │
	└──────────────────────────────────────────────────────────────────┘

All keys share one ordered keyspace so that IterRange over a prefix yields
every entry for one document in ascending clock order — exactly the access
pattern the update log and snapshot engine need.
*/
package kv

import "github.com/collabrt/collab/pkg/collaberr"

// Entry is a single key/value pair yielded by an iteration.
type Entry struct {
	Key   []byte
	Value []byte
}

// Txn is the subset of Store operations available inside an exclusive
// write transaction (spec §4.1: with_write_txn gives f exclusive write
// access atomically).
type Txn interface {
	Get(key []byte) ([]byte, bool, error)
	Insert(key, val []byte) (prior []byte, err error)
	Remove(key []byte) error
	RemoveRange(from, to []byte) error
	IterRange(from, to []byte, fn func(Entry) error) error
	NextBackEntry(key []byte) (Entry, bool, error)

	// NextHandle returns the next value of a store-wide monotonic
	// counter, durable once the enclosing write transaction commits.
	// Doc handles are allocated from this counter rather than from any
	// clock-derived id, so two handles can never collide regardless of
	// when or how fast they're issued.
	NextHandle() (uint32, error)
}

// Store is the ordered byte-key/byte-value contract every persistence
// component in this module is written against. BoltStore is the only
// production implementation; tests may substitute an in-memory fake.
type Store interface {
	Txn

	// WithWriteTxn runs fn with exclusive write access, atomically: either
	// every op inside fn is durable on return, or none are.
	WithWriteTxn(fn func(Txn) error) error

	Close() error
}

// ErrNotFound is returned by callers that want a hard error instead of the
// (value, found, err) tri-state Get/NextBackEntry use directly.
var ErrNotFound = collaberr.NotFound
