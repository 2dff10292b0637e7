package sync

import (
	"sync"
	"time"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/collab/plugins"
	"github.com/collabrt/collab/pkg/metrics"
)

// Group is the single authoritative broadcast group for one object
// (spec §4.9): it owns the Collab, fans out every committed update to
// every other subscriber, and tracks how long it has sat empty so the
// registry can evict it.
type Group struct {
	objectID string
	collab   *collab.Collab
	bridge   *plugins.AwarenessBridge

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	emptySince  time.Time
}

type subscriber struct {
	origin collab.Origin
	sink   plugins.Sink
}

func newAwarenessBridge(objectID string, c *collab.Collab, sink plugins.Sink) *plugins.AwarenessBridge {
	return plugins.NewAwarenessBridge(objectID, c.Awareness(), sink)
}

// Collab exposes the underlying object so callers can run read/write
// transactions against it.
func (g *Group) Collab() *collab.Collab { return g.collab }

// Subscribe registers a connection's sink to receive fan-out for this
// object. origin identifies the connection's writer so its own commits
// are not echoed back to it.
func (g *Group) Subscribe(connID string, origin collab.Origin, sink plugins.Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers[connID] = &subscriber{origin: origin, sink: sink}
	g.emptySince = time.Time{}
	metrics.AwarenessPeers.WithLabelValues(g.objectID).Set(float64(len(g.subscribers)))
}

// Unsubscribe removes a connection. Once the group has no subscribers
// left it is eligible for eviction after the registry's retention
// window.
func (g *Group) Unsubscribe(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subscribers, connID)
	if len(g.subscribers) == 0 {
		g.emptySince = time.Now()
	}
	metrics.AwarenessPeers.WithLabelValues(g.objectID).Set(float64(len(g.subscribers)))
}

func (g *Group) subscriberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subscribers)
}

func (g *Group) idleSince() (time.Time, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.subscribers) != 0 {
		return time.Time{}, false
	}
	return g.emptySince, true
}

// EnqueueUpdate implements plugins.Sink. It is installed as the Sink
// backing a plugins.SyncSink on the group's Collab, so every committed
// update flows through here once, then fans out to every subscriber but
// the one whose origin produced it.
func (g *Group) EnqueueUpdate(objectID string, origin collab.Origin, update []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, sub := range g.subscribers {
		if sub.origin.Equal(origin) {
			continue
		}
		sub.sink.EnqueueUpdate(objectID, origin, update)
		metrics.BroadcastFanout.WithLabelValues(objectID).Inc()
	}
}

// EnqueueAwareness implements plugins.Sink, broadcasting awareness
// changes to every subscriber. Awareness carries its own client id, so a
// subscriber echoing its own state back is harmless.
func (g *Group) EnqueueAwareness(objectID string, entries []collab.AwarenessEntry, removed []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, sub := range g.subscribers {
		sub.sink.EnqueueAwareness(objectID, entries, removed)
	}
}

// SyncPlugin builds the plugin that should be passed to collab.New so
// this group receives every commit made to the object.
func (g *Group) SyncPlugin() collab.Plugin {
	return plugins.NewSyncSink(g)
}

// StateV1 encodes the object's current state for a joining
// subscriber's state-vector handshake.
func (g *Group) StateV1() ([]byte, error) {
	return g.collab.EncodeStateV1()
}
