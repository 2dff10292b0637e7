package collab

import (
	"fmt"

	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/log"
)

// Loader reconstructs a fully loaded doc from disk (snapshot + update
// log), the Disk data source's job per spec §4.3. Supplying it as a
// function value keeps this package decoupled from the persistence
// package that implements it.
type Loader func() (*crdt.Doc, error)

// DataSourceKind tags which of the four construction paths a Collab was
// built from.
type DataSourceKind int

const (
	SourceEmpty DataSourceKind = iota
	SourceDocStateV1
	SourceDocStateV2
	SourceDisk
)

// DataSource selects how a Collab's initial CRDT state is populated.
type DataSource struct {
	Kind  DataSourceKind
	Bytes []byte
	Load  Loader
}

func EmptySource() DataSource                  { return DataSource{Kind: SourceEmpty} }
func DocStateV1Source(bytes []byte) DataSource { return DataSource{Kind: SourceDocStateV1, Bytes: bytes} }
func DocStateV2Source(bytes []byte) DataSource { return DataSource{Kind: SourceDocStateV2, Bytes: bytes} }
func DiskSource(load Loader) DataSource        { return DataSource{Kind: SourceDisk, Load: load} }

// Collab owns one CRDT document and is the only thing a caller mutates
// through: every observable change passes through WriteTxn or
// ApplyRemoteUpdate, which encode the resulting update bytes and run the
// registered plugins' hooks in registration order on the committing
// thread (spec §4.3/§4.4/§5 — no suspension inside a held write txn).
type Collab struct {
	objectID ObjectID
	clientID string
	doc      *crdt.Doc
	plugins  []Plugin
	errCh    chan PluginError

	awareness *Awareness
}

// New constructs a Collab, runs each plugin's DidInit in registration
// order inside one write transaction, and returns it ready for use.
// replica is only used for SourceEmpty; SourceDocStateV1/V2 take the
// replica identity encoded in the state, and SourceDisk takes whatever
// doc its Loader returns.
func New(objectID ObjectID, clientID string, replica uint64, source DataSource, plugins []Plugin) (*Collab, error) {
	var doc *crdt.Doc

	switch source.Kind {
	case SourceEmpty:
		doc = crdt.NewDoc(replica)
	case SourceDocStateV1, SourceDocStateV2:
		d, err := crdt.DecodeState(source.Bytes)
		if err != nil {
			return nil, fmt.Errorf("collab: decode initial state for %s: %w", objectID, err)
		}
		doc = d
	case SourceDisk:
		d, err := source.Load()
		if err != nil {
			return nil, fmt.Errorf("collab: load %s from disk: %w", objectID, err)
		}
		doc = d
	default:
		return nil, fmt.Errorf("collab: unknown data source kind %d", source.Kind)
	}

	c := &Collab{
		objectID:  objectID,
		clientID:  clientID,
		doc:       doc,
		plugins:   plugins,
		errCh:     make(chan PluginError, 32),
		awareness: newAwareness(),
	}

	if err := doc.WriteTxn(func(txn *crdt.Txn) error {
		for _, p := range c.plugins {
			if err := p.DidInit(c.objectID.String(), txn); err != nil {
				c.reportPluginError(p.Name(), "DidInit", err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Collab) ID() ObjectID { return c.objectID }

func (c *Collab) ClientID() string { return c.clientID }

func (c *Collab) Awareness() *Awareness { return c.awareness }

// Errors returns the channel plugin hook failures are reported on (spec
// §4.3: "the error is surfaced on a dedicated channel"). The channel is
// buffered; when it is full the new report is dropped rather than
// blocking the commit thread, and the drop is logged.
func (c *Collab) Errors() <-chan PluginError { return c.errCh }

func (c *Collab) reportPluginError(plugin, hook string, err error) {
	pe := PluginError{Plugin: plugin, Hook: hook, Err: err}
	select {
	case c.errCh <- pe:
	default:
		log.WithComponent("collab").Warn().
			Str("object_id", c.objectID.String()).
			Str("plugin", plugin).
			Str("hook", hook).
			Err(err).
			Msg("plugin error channel full, dropping report")
	}
}

// ReadTxn runs fn against a read-only transaction.
func (c *Collab) ReadTxn(fn func(txn *crdt.Txn) error) error {
	return c.doc.ReadTxn(fn)
}

// WriteTxn runs fn inside an exclusive write transaction tagged with
// origin. If fn succeeds and produced any ops, the runtime encodes the
// update bytes and runs DidReceiveUpdate then AfterTransaction on every
// plugin, in registration order, on this same thread (spec §4.3 steps
// 1-4). Plugin failures are reported on Errors() without affecting the
// already-committed mutation.
func (c *Collab) WriteTxn(origin Origin, fn func(txn *crdt.Txn) error) error {
	return c.doc.WriteTxn(func(txn *crdt.Txn) error {
		if ferr := fn(txn); ferr != nil {
			return ferr
		}
		ops := txn.Ops()
		if len(ops) == 0 {
			return nil
		}
		update, eerr := crdt.EncodeUpdate(ops)
		if eerr != nil {
			return fmt.Errorf("collab: encode update for %s: %w", c.objectID, eerr)
		}
		c.dispatchCommitHooks(origin, txn, update)
		return nil
	})
}

// ApplyRemoteUpdate merges an encoded update received from a peer/server
// into the document and runs the commit hooks with origin. It does not
// compare origin with this Collab's own client identity: every update it
// is given is applied, including one that echoes a local write. Echo
// filtering happens in the sync layer's Group fan-out, which skips the
// subscriber whose origin produced an update.
func (c *Collab) ApplyRemoteUpdate(origin Origin, update []byte) error {
	ops, err := crdt.DecodeUpdate(update)
	if err != nil {
		return fmt.Errorf("collab: decode remote update for %s: %w", c.objectID, err)
	}
	c.doc.ApplyUpdate(ops)
	return c.doc.ReadTxn(func(txn *crdt.Txn) error {
		c.dispatchCommitHooks(origin, txn, update)
		return nil
	})
}

func (c *Collab) dispatchCommitHooks(origin Origin, txn *crdt.Txn, update []byte) {
	for _, p := range c.plugins {
		if err := p.DidReceiveUpdate(c.objectID.String(), txn, origin, update); err != nil {
			c.reportPluginError(p.Name(), "DidReceiveUpdate", err)
		}
	}
	for _, p := range c.plugins {
		if err := p.AfterTransaction(c.objectID.String(), txn, origin); err != nil {
			c.reportPluginError(p.Name(), "AfterTransaction", err)
		}
	}
}

// Observe registers fn for every event on every root.
func (c *Collab) Observe(fn crdt.Observer) *crdt.Subscription { return c.doc.Observe(fn) }

// ObserveRoot registers fn for events on one named root.
func (c *Collab) ObserveRoot(root string, fn crdt.Observer) *crdt.Subscription {
	return c.doc.ObserveRoot(root, fn)
}

// EncodeStateV1/V2 return the document's current full state; both
// produce the same bytes today (a single internal encoding), named
// separately because spec.md's external interface distinguishes the two
// versions an importer might hand in.
func (c *Collab) EncodeStateV1() ([]byte, error) { return crdt.EncodeState(c.doc) }
func (c *Collab) EncodeStateV2() ([]byte, error) { return crdt.EncodeState(c.doc) }

// Flush runs every plugin's Flush hook in registration order, the last
// step before a Collab is dropped (spec §3: "Destroyed when all strong
// references drop; plugin flush runs first").
func (c *Collab) Flush() error {
	var firstErr error
	for _, p := range c.plugins {
		if err := p.Flush(); err != nil {
			c.reportPluginError(p.Name(), "Flush", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Reset runs every plugin's Reset hook, used when a Collab's underlying
// connection/session is being rebuilt from scratch (e.g. a resync after
// a corrupted local snapshot, spec §7).
func (c *Collab) Reset() error {
	var firstErr error
	for _, p := range c.plugins {
		if err := p.Reset(); err != nil {
			c.reportPluginError(p.Name(), "Reset", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
