package sync

import (
	"sync"
	"time"

	"github.com/collabrt/collab/pkg/collab"
)

// Registry owns one Group per object, created on first subscribe and
// evicted after it has sat without subscribers for longer than Retain
// (spec §4.9's TTL-based doc retention).
type Registry struct {
	mu     sync.Mutex
	groups map[string]*Group
	retain time.Duration
}

func NewRegistry(retain time.Duration) *Registry {
	if retain <= 0 {
		retain = 5 * time.Minute
	}
	return &Registry{groups: make(map[string]*Group), retain: retain}
}

// GetOrCreate returns the group for objectID, constructing its Collab
// via source/clientID/replica and wiring its broadcast plugin the first
// time the object is touched.
func (r *Registry) GetOrCreate(objectID collab.ObjectID, clientID string, replica uint64, source collab.DataSource, extraPlugins ...collab.Plugin) (*Group, error) {
	key := objectID.String()

	r.mu.Lock()
	if g, ok := r.groups[key]; ok {
		r.mu.Unlock()
		return g, nil
	}
	r.mu.Unlock()

	// The group's sync plugin must be installed at Collab construction
	// time, so build the (collab-less) group first and pass its Sink
	// methods in as the plugin, then finish wiring once the Collab and
	// its Awareness tracker exist.
	g := &Group{objectID: key, subscribers: make(map[string]*subscriber)}
	pluginList := append([]collab.Plugin{g.SyncPlugin()}, extraPlugins...)
	c, err := collab.New(objectID, clientID, replica, source, pluginList)
	if err != nil {
		return nil, err
	}
	g.collab = c
	g.bridge = newAwarenessBridge(key, c, g)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.groups[key]; ok {
		g.bridge.Close()
		return existing, nil
	}
	r.groups[key] = g
	return g, nil
}

// Get returns the group for objectID if it already exists.
func (r *Registry) Get(objectID collab.ObjectID) (*Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[objectID.String()]
	return g, ok
}

// Sweep evicts every group that has sat empty for longer than the
// registry's retention window. Call it periodically from a background
// ticker.
func (r *Registry) Sweep(now time.Time) (evicted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, g := range r.groups {
		since, empty := g.idleSince()
		if empty && now.Sub(since) >= r.retain {
			delete(r.groups, key)
			evicted++
		}
	}
	return evicted
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
