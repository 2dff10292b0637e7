// Package idgen generates Twitter Snowflake-style ids, which sort by
// creation time across the whole deployment without a coordinator. No
// other package in this module imports it; the persistence layer's doc
// handles come from kv.Txn.NextHandle instead.
//
// No id-generation library appears anywhere in the retrieval pack (the
// closest candidate, github.com/google/uuid, produces random or
// time-ordered-but-not-numerically-sortable ids, which does not fit the
// ordered byte-key requirement spec §6 places on doc_update/doc_snapshot
// keys), so this is hand-built the way the corpus hand-builds other
// small protocol-shaped primitives it has no library for.
package idgen

import (
	"sync"
	"time"
)

const (
	nodeBits     = 10
	sequenceBits = 12

	maxNode     = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift  = sequenceBits
	epochShift = sequenceBits + nodeBits
)

// epoch is a fixed reference point so the 42-bit timestamp field does not
// run out before the 2100s. It is never reconfigured at runtime: doing so
// would make ids generated before and after the change compare out of
// creation order.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// nowFunc is overridden in tests for deterministic clock-rollback and
// sequence-overflow scenarios.
var nowFunc = func() int64 { return time.Now().UnixMilli() }

// Generator hands out unique, k-sortable, monotonically increasing ids
// from a single node. It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	node     int64
	lastMS   int64
	sequence int64
}

// New creates a Generator for the given node id (0..1023), the value
// spec's bind_addr/node_id configuration maps each running instance to.
func New(node uint16) *Generator {
	if int(node) > maxNode {
		node = node % (maxNode + 1)
	}
	return &Generator{node: int64(node)}
}

// Next returns the next id. It busy-waits (spinning on nowFunc, not
// sleeping, since the wait is sub-millisecond) if the local sequence
// counter overflows within the same millisecond, and panics if the clock
// is observed to move backwards: Snowflake ids are not monotonic across a
// clock rollback, and silently producing ids that could collide with or
// predate earlier ones is worse than crashing the process that noticed.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := nowFunc()
	if ms < g.lastMS {
		panic("idgen: clock moved backwards")
	}
	if ms == g.lastMS {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ms <= g.lastMS {
				ms = nowFunc()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = ms

	return ((ms - epoch) << epochShift) | (g.node << nodeShift) | g.sequence
}

// Decompose splits a generated id back into its timestamp, node and
// sequence parts, mainly useful for diagnostics/inspection tooling.
func Decompose(id int64) (ts time.Time, node int64, sequence int64) {
	ms := (id >> epochShift) + epoch
	node = (id >> nodeShift) & maxNode
	sequence = id & maxSequence
	return time.UnixMilli(ms).UTC(), node, sequence
}
