package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/log"
	"github.com/collabrt/collab/pkg/sync/wire"
)

// ObjectResolver looks up (or lazily constructs) the broadcast group for
// an object id string, the one piece of server wiring Session needs from
// its host process (which data source/replica a fresh object gets is a
// deployment decision, not this package's).
type ObjectResolver func(objectIDStr string) (*Group, error)

// Session is the server side of one accepted WebSocket connection: it
// reads ClientInit/Update/AwarenessUpdate frames, applies them to the
// objects the client has subscribed to, and drains an outbound Sink back
// over the same socket (spec §4.9's broadcast group transport).
type Session struct {
	id       string
	ws       *websocket.Conn
	sink     *Sink
	resolve  ObjectResolver
	clientID string

	mu   sync.Mutex
	subs map[string]*Group // objectIDStr -> group this session is subscribed to
}

func NewSession(id, clientID string, ws *websocket.Conn, sink *Sink, resolve ObjectResolver) *Session {
	return &Session{id: id, ws: ws, sink: sink, resolve: resolve, clientID: clientID, subs: make(map[string]*Group)}
}

// Serve runs the session until the connection closes or ctx is
// cancelled, then unsubscribes from every group it joined.
func (s *Session) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writerLoop(runCtx)
	}()

	err := s.readerLoop(runCtx)
	cancel()
	<-writerDone

	s.mu.Lock()
	for objectIDStr, g := range s.subs {
		g.Unsubscribe(s.id)
		delete(s.subs, objectIDStr)
	}
	s.mu.Unlock()
	return err
}

func (s *Session) writerLoop(ctx context.Context) {
	for {
		f, _, ok := s.sink.Dequeue(ctx)
		if !ok {
			return
		}
		if err := s.ws.WriteMessage(websocket.BinaryMessage, wire.Encode(f)); err != nil {
			log.Errorf("sync: session write failed for "+s.id, err)
			return
		}
	}
}

func (s *Session) readerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("sync: session read error: %w", err)
		}

		f, err := wire.Decode(data)
		if err != nil {
			log.Errorf("sync: session malformed frame from "+s.id, err)
			continue
		}

		if err := s.handleFrame(f); err != nil {
			log.Errorf("sync: session frame handling failed for "+s.id, err)
		}
	}
}

func (s *Session) handleFrame(f wire.Frame) error {
	switch f.Kind {
	case wire.KindClientInit:
		return s.handleClientInit(f)
	case wire.KindUpdate:
		return s.handleUpdate(f)
	case wire.KindAwarenessUpdate:
		return s.handleAwareness(f)
	default:
		return fmt.Errorf("sync: unexpected frame kind %d from client", f.Kind)
	}
}

// handleClientInit subscribes the session to the named object and
// replies with a ServerSync frame carrying the object's current state,
// the state-vector handshake spec §4.9 calls for.
func (s *Session) handleClientInit(f wire.Frame) error {
	g, err := s.resolve(f.ObjectID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[f.ObjectID] = g
	s.mu.Unlock()

	origin := collab.ClientOrigin(f.Origin.UID, f.Origin.DeviceID)
	g.Subscribe(s.id, origin, s.sink)

	state, err := g.StateV1()
	if err != nil {
		return err
	}
	s.sink.Enqueue(wire.Frame{Kind: wire.KindServerSync, ObjectID: f.ObjectID, Body: state})
	return nil
}

func (s *Session) handleUpdate(f wire.Frame) error {
	g, err := s.resolvedGroup(f.ObjectID)
	if err != nil {
		return err
	}
	if err := g.Collab().ApplyRemoteUpdate(f.Origin, f.Body); err != nil {
		return err
	}
	s.sink.Enqueue(wire.Frame{Kind: wire.KindAck, ObjectID: f.ObjectID, Seq: f.Seq})
	return nil
}

func (s *Session) handleAwareness(f wire.Frame) error {
	g, err := s.resolvedGroup(f.ObjectID)
	if err != nil {
		return err
	}
	var payload awarenessPayload
	if err := json.Unmarshal(f.Body, &payload); err != nil {
		return fmt.Errorf("sync: malformed awareness payload: %w", err)
	}
	for _, e := range payload.Entries {
		g.Collab().Awareness().Apply(e.ClientID, e.Clock, e.State)
	}
	return nil
}

func (s *Session) resolvedGroup(objectIDStr string) (*Group, error) {
	s.mu.Lock()
	g, ok := s.subs[objectIDStr]
	s.mu.Unlock()
	if ok {
		return g, nil
	}
	return s.resolve(objectIDStr)
}
