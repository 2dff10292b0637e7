// Package sync implements the outbound sink, inbound routing, and
// broadcast group spec §4.8/§4.9 describe: the transport-facing half of
// the system that turns committed Collab updates into wire frames and
// back.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/crdt"
	"github.com/collabrt/collab/pkg/log"
	"github.com/collabrt/collab/pkg/metrics"
	"github.com/collabrt/collab/pkg/sync/wire"
)

// SinkConfig tunes one connection's outbound sink.
type SinkConfig struct {
	Capacity     int
	MergeWindow  time.Duration
	RetryHorizon time.Duration
}

func DefaultSinkConfig() SinkConfig {
	return SinkConfig{Capacity: 256, MergeWindow: 50 * time.Millisecond, RetryHorizon: 30 * time.Second}
}

type queuedFrame struct {
	seq        uint64
	frame      wire.Frame
	enqueuedAt time.Time
	sent       bool
}

// Sink is a single-producer, bounded outbound queue for one connection.
// It satisfies pkg/collab/plugins.Sink by duck typing.
type Sink struct {
	label string
	cfg   SinkConfig

	mu      sync.Mutex
	nextSeq uint64
	pending []*queuedFrame
	notify  chan struct{}
}

func NewSink(label string, cfg SinkConfig) *Sink {
	if cfg.Capacity == 0 {
		cfg = DefaultSinkConfig()
	}
	return &Sink{label: label, cfg: cfg, notify: make(chan struct{}, 1)}
}

func (s *Sink) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Ready reports whether the sink has room for another frame (spec
// §4.8's backpressure rule).
func (s *Sink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) < s.cfg.Capacity
}

// EnqueueUpdate implements plugins.Sink. Consecutive unsent Update
// frames for the same object are merged via the CRDT op-concatenation
// primitive within the configured merge window.
func (s *Sink) EnqueueUpdate(objectID string, origin collab.Origin, update []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last := s.lastUnsentUpdateLocked(objectID); last != nil {
		if time.Since(last.enqueuedAt) <= s.cfg.MergeWindow {
			merged, err := mergeUpdateBytes(last.frame.Body, update)
			if err == nil {
				last.frame.Body = merged
				last.frame.Origin = origin
				metrics.SinkCoalescedFrames.Inc()
				return
			}
			log.Errorf("sync: failed to coalesce update frames for "+objectID, err)
		}
	}

	s.enqueueLocked(wire.Frame{Kind: wire.KindUpdate, ObjectID: objectID, Origin: origin, Body: update})
}

func (s *Sink) lastUnsentUpdateLocked(objectID string) *queuedFrame {
	for i := len(s.pending) - 1; i >= 0; i-- {
		qf := s.pending[i]
		if qf.frame.ObjectID != objectID {
			continue
		}
		if qf.sent || qf.frame.Kind != wire.KindUpdate {
			return nil
		}
		return qf
	}
	return nil
}

// awarenessPayload is the JSON body carried by an AwarenessUpdate frame.
type awarenessPayload struct {
	Entries []collab.AwarenessEntry `json:"entries"`
	Removed []string                `json:"removed"`
}

// EnqueueAwareness implements plugins.Sink.
func (s *Sink) EnqueueAwareness(objectID string, entries []collab.AwarenessEntry, removed []string) {
	body, err := json.Marshal(awarenessPayload{Entries: entries, Removed: removed})
	if err != nil {
		log.Errorf("sync: failed to encode awareness frame for "+objectID, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(wire.Frame{Kind: wire.KindAwarenessUpdate, ObjectID: objectID, Body: body})
}

// Enqueue pushes any frame (Init/Ack/ClientInit/ServerSync) onto the
// queue, for callers outside the plugin bus.
func (s *Sink) Enqueue(f wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(f)
}

func (s *Sink) enqueueLocked(f wire.Frame) {
	s.nextSeq++
	s.pending = append(s.pending, &queuedFrame{seq: s.nextSeq, frame: f, enqueuedAt: time.Now()})
	metrics.SinkQueueDepth.WithLabelValues(s.label).Set(float64(len(s.pending)))
	s.wake()
}

// Dequeue blocks until a frame is ready to send (or ctx is done),
// returning it along with the sequence number Ack expects back.
func (s *Sink) Dequeue(ctx context.Context) (wire.Frame, uint64, bool) {
	for {
		s.mu.Lock()
		for _, qf := range s.pending {
			if !qf.sent {
				qf.sent = true
				frame, seq := qf.frame, qf.seq
				frame.Seq = seq
				s.mu.Unlock()
				return frame, seq, true
			}
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return wire.Frame{}, 0, false
		case <-s.notify:
		}
	}
}

// Ack removes the acknowledged frame from the pending queue.
func (s *Sink) Ack(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, qf := range s.pending {
		if qf.seq == seq {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			metrics.SinkQueueDepth.WithLabelValues(s.label).Set(float64(len(s.pending)))
			return
		}
	}
}

// ResetForReconnect marks every still-pending frame unsent so the send
// loop redelivers it, in original order, after a fresh connection.
func (s *Sink) ResetForReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, qf := range s.pending {
		qf.sent = false
	}
}

// DropStale removes pending frames older than the configured retry
// horizon, signalling that the caller should fall back to a
// state-vector resync instead of continuing to redeliver them.
func (s *Sink) DropStale() (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.RetryHorizon <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.cfg.RetryHorizon)
	kept := s.pending[:0]
	for _, qf := range s.pending {
		if qf.enqueuedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, qf)
	}
	s.pending = kept
	if dropped > 0 {
		metrics.SinkDroppedFrames.WithLabelValues(s.label).Add(float64(dropped))
		metrics.SinkQueueDepth.WithLabelValues(s.label).Set(float64(len(s.pending)))
	}
	return dropped
}

// mergeUpdateBytes concatenates two encoded update op streams into one,
// the CRDT merge primitive spec §4.8 calls for when coalescing
// consecutive Update frames.
func mergeUpdateBytes(a, b []byte) ([]byte, error) {
	opsA, err := crdt.DecodeUpdate(a)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "decode update for coalescing", err)
	}
	opsB, err := crdt.DecodeUpdate(b)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.KindEncoding, "decode update for coalescing", err)
	}
	merged := append(append([]crdt.Op(nil), opsA...), opsB...)
	return crdt.EncodeUpdate(merged)
}
