// Package plugins implements the stock Collab plugin set: disk
// persistence, periodic snapshot compaction, outbound sync delivery, and
// awareness broadcast (spec §4.4).
package plugins

import (
	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/persistence"
)

// DiskPersistence appends every committed update to a persistence.Engine
// under a fixed doc handle. It deliberately bypasses Engine.AppendUpdate's
// count-based compaction trigger and writes through Engine.Updates
// directly: compaction here is SnapshotGenerator's job, driven off
// transaction counts rather than raw log rows. Loading is not this
// plugin's job either: the Collab's Disk data source already
// reconstructs the doc from snapshot + log before any plugin's DidInit
// runs, via the Loader closure an Engine hands back.
type DiskPersistence struct {
	collab.BasePlugin

	engine     *persistence.Engine
	handle     uint32
	collabType string
}

func NewDiskPersistence(engine *persistence.Engine, handle uint32, collabType string) *DiskPersistence {
	return &DiskPersistence{engine: engine, handle: handle, collabType: collabType}
}

func (p *DiskPersistence) Name() string { return "disk_persistence" }

func (p *DiskPersistence) DidReceiveUpdate(objectID string, txn *crdt.Txn, origin collab.Origin, update []byte) error {
	_, err := p.engine.Updates.Append(p.handle, p.collabType, update)
	return err
}
