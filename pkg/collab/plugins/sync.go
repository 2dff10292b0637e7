package plugins

import (
	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
)

// Sink is the outbound delivery surface SyncSink and AwarenessBridge
// push onto. It is declared here, not imported from pkg/sync, so this
// package never depends on the transport layer; pkg/sync's connection
// sink satisfies it by duck typing.
type Sink interface {
	EnqueueUpdate(objectID string, origin collab.Origin, update []byte)
	EnqueueAwareness(objectID string, entries []collab.AwarenessEntry, removed []string)
}

// SyncSink forwards every committed update to an outbound Sink, tagged
// with the origin that produced it so a connection can skip echoing a
// peer's own write back to itself (spec §4.8).
type SyncSink struct {
	collab.BasePlugin

	sink Sink
}

func NewSyncSink(sink Sink) *SyncSink {
	return &SyncSink{sink: sink}
}

func (p *SyncSink) Name() string { return "sync_sink" }

func (p *SyncSink) DidReceiveUpdate(objectID string, txn *crdt.Txn, origin collab.Origin, update []byte) error {
	p.sink.EnqueueUpdate(objectID, origin, update)
	return nil
}

// AwarenessBridge forwards awareness changes to an outbound Sink. Unlike
// SyncSink it does not hook the Plugin lifecycle at all: awareness never
// flows through the update log or commit hooks (spec §3), so it
// subscribes directly to the Collab's Awareness tracker instead.
type AwarenessBridge struct {
	sink     Sink
	objectID string
	sub      *collab.AwarenessSubscription
}

// NewAwarenessBridge subscribes to awareness and begins forwarding
// immediately; callers should keep the returned bridge alive for as long
// as forwarding should continue and call Close to unsubscribe.
func NewAwarenessBridge(objectID string, awareness *collab.Awareness, sink Sink) *AwarenessBridge {
	b := &AwarenessBridge{sink: sink, objectID: objectID}
	b.sub = awareness.Observe(func(changed []collab.AwarenessEntry, removed []string) {
		sink.EnqueueAwareness(objectID, changed, removed)
	})
	return b
}

func (b *AwarenessBridge) Close() {
	b.sub.Cancel()
}
