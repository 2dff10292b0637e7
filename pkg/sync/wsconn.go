package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabrt/collab/pkg/log"
	"github.com/collabrt/collab/pkg/metrics"
	"github.com/collabrt/collab/pkg/sync/wire"
)

// ConnConfig tunes a Conn's dial and reconnect behavior.
type ConnConfig struct {
	URL string

	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectBackoffFactor float64
	ReconnectMaxAttempts   int // 0 = infinite

	PingInterval time.Duration
}

func DefaultConnConfig(url string) ConnConfig {
	return ConnConfig{
		URL:                    url,
		ReconnectInitialDelay:  10 * time.Millisecond,
		ReconnectMaxDelay:      30 * time.Second,
		ReconnectBackoffFactor: 2.0,
		PingInterval:           30 * time.Second,
	}
}

// Conn is one client-side WebSocket connection to the broadcast group's
// transport endpoint: it drives an outbound Sink's queue over the wire
// and dispatches inbound frames to onFrame, reconnecting with
// exponential backoff whenever the socket drops (spec §6's sync client).
type Conn struct {
	label   string
	cfg     ConnConfig
	sink    *Sink
	onFrame func(wire.Frame)

	mu        sync.RWMutex
	ws        *websocket.Conn
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConn builds a connection around an existing Sink. onFrame is
// invoked from the read loop for every frame that is not itself an Ack
// (Acks are consumed internally to retire sink entries).
func NewConn(label string, cfg ConnConfig, sink *Sink, onFrame func(wire.Frame)) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{label: label, cfg: cfg, sink: sink, onFrame: onFrame, ctx: ctx, cancel: cancel}
}

// Start begins the connect/reconnect loop in the background.
func (c *Conn) Start() {
	c.wg.Add(1)
	go c.connectionLoop()
}

// Close tears the connection down and waits for its goroutines to exit.
func (c *Conn) Close() error {
	c.cancel()
	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Conn) connectionLoop() {
	defer c.wg.Done()

	delay := c.cfg.ReconnectInitialDelay
	attempts := 0

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			attempts++
			metrics.ReconnectAttempts.Inc()
			log.Errorf(fmt.Sprintf("sync: connect failed for %s (attempt %d)", c.label, attempts), err)

			if c.cfg.ReconnectMaxAttempts > 0 && attempts >= c.cfg.ReconnectMaxAttempts {
				log.Error("sync: max reconnect attempts reached for " + c.label)
				return
			}

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * c.cfg.ReconnectBackoffFactor)
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
			continue
		}

		delay = c.cfg.ReconnectInitialDelay
		attempts = 0
		c.sink.ResetForReconnect()

		if err := c.runConnection(); err != nil {
			log.Errorf("sync: connection lost for "+c.label, err)
		}

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}
}

func (c *Conn) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(c.ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("sync: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) runConnection() error {
	runCtx, cancelRun := context.WithCancel(c.ctx)
	defer cancelRun()

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		c.senderLoop(runCtx)
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(runCtx)
	}()

	err := c.readLoop(runCtx)
	cancelRun()

	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.mu.Unlock()

	<-senderDone
	<-pingDone
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			return fmt.Errorf("sync: connection closed")
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("sync: read error: %w", err)
		}

		f, err := wire.Decode(data)
		if err != nil {
			log.Errorf("sync: malformed frame on "+c.label, err)
			continue
		}

		if f.Kind == wire.KindAck {
			c.sink.Ack(f.Seq)
			continue
		}
		if c.onFrame != nil {
			c.onFrame(f)
		}
	}
}

func (c *Conn) senderLoop(ctx context.Context) {
	for {
		f, _, ok := c.sink.Dequeue(ctx)
		if !ok {
			return
		}
		if err := c.writeFrame(f); err != nil {
			log.Errorf("sync: write failed for "+c.label, err)
			return
		}
	}
}

func (c *Conn) writeFrame(f wire.Frame) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("sync: not connected")
	}
	return ws.WriteMessage(websocket.BinaryMessage, wire.Encode(f))
}

func (c *Conn) pingLoop(ctx context.Context) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			ws := c.ws
			c.mu.RUnlock()
			if ws == nil {
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				log.Errorf("sync: ping failed for "+c.label, err)
			}
		}
	}
}
