package collab

import "github.com/collabrt/collab/pkg/crdt"

// Plugin is the capability set the plugin bus dispatches against (spec
// §4.4). Implementations that only care about a subset of hooks should
// embed BasePlugin and override the rest.
type Plugin interface {
	Name() string
	DidInit(objectID string, txn *crdt.Txn) error
	DidReceiveUpdate(objectID string, txn *crdt.Txn, origin Origin, update []byte) error
	AfterTransaction(objectID string, txn *crdt.Txn, origin Origin) error
	Flush() error
	Reset() error
}

// BasePlugin supplies no-op implementations of every Plugin hook.
type BasePlugin struct{}

func (BasePlugin) DidInit(string, *crdt.Txn) error                          { return nil }
func (BasePlugin) DidReceiveUpdate(string, *crdt.Txn, Origin, []byte) error { return nil }
func (BasePlugin) AfterTransaction(string, *crdt.Txn, Origin) error         { return nil }
func (BasePlugin) Flush() error                                            { return nil }
func (BasePlugin) Reset() error                                            { return nil }

// PluginError is delivered on a Collab's error channel when a plugin hook
// fails. The mutation that triggered it has already committed — CRDT
// writes cannot be rolled back — so this is purely a side-channel report
// (spec §4.3/§7).
type PluginError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e PluginError) Error() string {
	return e.Plugin + "." + e.Hook + ": " + e.Err.Error()
}
