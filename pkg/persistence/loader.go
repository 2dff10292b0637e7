package persistence

import (
	"github.com/collabrt/collab/pkg/crdt"
)

// Load reconstructs a doc for handle from its latest snapshot (if any)
// plus every update strictly newer than it, in one pass. This is the
// function a collab.Loader closure wraps for SourceDisk construction.
func (e *Engine) Load(handle uint32, replica uint64) (*crdt.Doc, error) {
	base, hasBase, err := e.Snapshots.Latest(handle)
	if err != nil {
		return nil, err
	}

	doc := crdt.NewDoc(replica)
	fromClock := uint64(0)
	if hasBase {
		d, derr := crdt.DecodeState(base.Bytes)
		if derr != nil {
			return nil, derr
		}
		doc = d
		fromClock = base.Clock
	}

	updates, err := e.Updates.ReadSince(handle, fromClock)
	if err != nil {
		return nil, err
	}
	for _, raw := range updates {
		ops, derr := crdt.DecodeUpdate(raw)
		if derr != nil {
			return nil, derr
		}
		doc.ApplyUpdate(ops)
	}
	return doc, nil
}

// Loader returns a collab.Loader-compatible closure bound to handle.
// Kept here (rather than in pkg/collab) so pkg/collab never imports
// pkg/persistence — persistence depends on collab's CRDT layer, not the
// other way around.
func (e *Engine) Loader(handle uint32, replica uint64) func() (*crdt.Doc, error) {
	return func() (*crdt.Doc, error) {
		return e.Load(handle, replica)
	}
}
