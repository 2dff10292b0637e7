package sync

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/sync/wire"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newSessionServer starts an httptest server that upgrades every request
// into a Session resolving against a shared Registry, mirroring what
// cmd/collabd's /sync handler does.
func newSessionServer(t *testing.T, registry *Registry) *httptest.Server {
	t.Helper()
	resolve := func(objectIDStr string) (*Group, error) {
		parts := strings.SplitN(objectIDStr, ":", 2)
		require.Len(t, parts, 2)
		return registry.GetOrCreate(collab.ObjectID{Type: collab.TypeDocument, Value: parts[1]}, "server", 1, collab.EmptySource())
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sink := NewSink(r.RemoteAddr, SinkConfig{Capacity: 32, MergeWindow: -1})
		session := NewSession(r.RemoteAddr, "client", ws, sink, resolve)
		_ = session.Serve(r.Context())
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConn_ReceivesServerSyncOnClientInit(t *testing.T) {
	registry := NewRegistry(time.Minute)
	srv := newSessionServer(t, registry)
	defer srv.Close()

	clientSink := NewSink("client", SinkConfig{Capacity: 32, MergeWindow: -1})

	var mu sync.Mutex
	var received []wire.Frame
	frameSeen := make(chan struct{}, 8)

	conn := NewConn("client", DefaultConnConfig(wsURL(srv.URL)), clientSink, func(f wire.Frame) {
		mu.Lock()
		received = append(received, f)
		mu.Unlock()
		frameSeen <- struct{}{}
	})
	conn.Start()
	defer conn.Close()

	clientSink.Enqueue(wire.Frame{Kind: wire.KindClientInit, ObjectID: "document:doc-1"})

	select {
	case <-frameSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ServerSync frame")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, wire.KindServerSync, received[0].Kind)
}

func TestConn_UpdateRoundTripsAck(t *testing.T) {
	registry := NewRegistry(time.Minute)
	srv := newSessionServer(t, registry)
	defer srv.Close()

	clientSink := NewSink("client", SinkConfig{Capacity: 32, MergeWindow: -1})
	conn := NewConn("client", DefaultConnConfig(wsURL(srv.URL)), clientSink, func(wire.Frame) {})
	conn.Start()
	defer conn.Close()

	clientSink.Enqueue(wire.Frame{Kind: wire.KindClientInit, ObjectID: "document:doc-1"})

	update, err := crdt.EncodeUpdate([]crdt.Op{{Kind: crdt.OpMapSet, Root: "r", Key: "k1", Value: "v1"}})
	require.NoError(t, err)
	clientSink.EnqueueUpdate("document:doc-1", collab.ClientOrigin(1, "dev-a"), update)

	require.Eventually(t, func() bool {
		clientSink.mu.Lock()
		defer clientSink.mu.Unlock()
		for _, qf := range clientSink.pending {
			if qf.frame.Kind == wire.KindUpdate {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "update frame should be acked and removed from the pending queue")
}

func TestConn_IsConnectedAfterStart(t *testing.T) {
	registry := NewRegistry(time.Minute)
	srv := newSessionServer(t, registry)
	defer srv.Close()

	clientSink := NewSink("client", SinkConfig{Capacity: 32, MergeWindow: -1})
	conn := NewConn("client", DefaultConnConfig(wsURL(srv.URL)), clientSink, func(wire.Frame) {})
	conn.Start()
	defer conn.Close()

	require.Eventually(t, func() bool { return conn.IsConnected() }, time.Second, 5*time.Millisecond)
}
