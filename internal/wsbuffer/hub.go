package wsbuffer

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/logger"
)

// coalesceWindow is the per-session timer that batches rapid snapshot
// updates into at most one emit per window (§4.5 Delivery policy).
const coalesceWindow = 16 * time.Millisecond

// SnapshotSource produces the current encoded terminal snapshot for a
// session (the §4.3 wire format), or ok=false if the session is unknown.
type SnapshotSource interface {
	Snapshot(sessionID string) (payload []byte, ok bool)
}

// client is one subscriber's outbound sink, written to by the hub and
// drained by the connection's writer goroutine. Hub.emit and the
// connection's read loop can both reach a client concurrently, so sends
// and close are serialized through mu to avoid a send-on-closed-channel
// panic.
type client struct {
	id     string
	mu     sync.Mutex
	out    chan []byte
	closed bool
}

var clientSeq uint64

func newClient() *client {
	id := atomic.AddUint64(&clientSeq, 1)
	return &client{id: fmt.Sprintf("c%d", id), out: make(chan []byte, 32)}
}

// Close marks the client closed and closes its channel, safe to call
// concurrently with send and safe to call more than once.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// sessionHub tracks one session's subscribers and coalescing state.
type sessionHub struct {
	mu       sync.Mutex
	subs     map[*client]struct{}
	lastSent []byte
	timer    *time.Timer
	pending  bool
}

// Hub is the process-wide buffer aggregator: one per vtd instance, shared
// by every WebSocket connection.
type Hub struct {
	source SnapshotSource
	p2p    *P2PManager

	mu       sync.Mutex
	sessions map[string]*sessionHub
}

// NewHub creates a Hub reading snapshots from source.
func NewHub(source SnapshotSource) *Hub {
	return &Hub{source: source, sessions: make(map[string]*sessionHub)}
}

// SetP2P enables the optional WebRTC delivery path (§4.5 latency
// optimization): once set, outgoing frames try a subscriber's open
// DataChannel before falling back to its WebSocket. Left nil, every
// subscriber is served over WS only.
func (h *Hub) SetP2P(p2p *P2PManager) {
	h.p2p = p2p
}

func (h *Hub) sessionFor(id string) *sessionHub {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh, ok := h.sessions[id]
	if !ok {
		sh = &sessionHub{subs: make(map[*client]struct{})}
		h.sessions[id] = sh
	}
	return sh
}

// Subscribe attaches c to a session and returns the full snapshot frame to
// deliver (§4.5: "On subscribe, the server immediately sends a full
// snapshot"). It registers the subscription but does not enqueue the frame
// itself: P9 requires the connection's "subscribed" ack to reach the client
// strictly before this first binary frame, so the caller sends that ack
// and only then passes the returned frame to Deliver.
func (h *Hub) Subscribe(c *client, sessionID string) ([]byte, bool) {
	payload, ok := h.source.Snapshot(sessionID)
	if !ok {
		return nil, false
	}
	sh := h.sessionFor(sessionID)
	sh.mu.Lock()
	sh.subs[c] = struct{}{}
	sh.lastSent = payload
	sh.mu.Unlock()

	return encodeBufferEnvelope(sessionID, payload), true
}

// Deliver enqueues frame onto c's outbound sink, the same path a coalesced
// NotifyUpdate emit uses.
func (h *Hub) Deliver(c *client, frame []byte) {
	h.send(c, frame)
}

// Unsubscribe detaches c from a session.
func (h *Hub) Unsubscribe(c *client, sessionID string) {
	h.mu.Lock()
	sh, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	sh.mu.Lock()
	delete(sh.subs, c)
	sh.mu.Unlock()
}

// UnsubscribeAll removes c from every session it's attached to, called when
// its connection closes.
func (h *Hub) UnsubscribeAll(c *client) {
	h.mu.Lock()
	hubs := make([]*sessionHub, 0, len(h.sessions))
	for _, sh := range h.sessions {
		hubs = append(hubs, sh)
	}
	h.mu.Unlock()
	for _, sh := range hubs {
		sh.mu.Lock()
		delete(sh.subs, c)
		sh.mu.Unlock()
	}
}

// NotifyUpdate is called (by the session manager's output path) whenever a
// session's terminal state may have advanced. It schedules a coalesced
// emit, collapsing any updates that arrive within the next 16ms window into
// a single snapshot send.
func (h *Hub) NotifyUpdate(sessionID string) {
	sh := h.sessionFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.timer != nil {
		sh.pending = true
		return
	}
	sh.pending = false
	sh.timer = time.AfterFunc(coalesceWindow, func() { h.emit(sessionID) })
}

func (h *Hub) emit(sessionID string) {
	sh := h.sessionFor(sessionID)

	sh.mu.Lock()
	sh.timer = nil
	rerun := sh.pending
	sh.pending = false
	sh.mu.Unlock()

	payload, ok := h.source.Snapshot(sessionID)
	if !ok {
		return
	}

	sh.mu.Lock()
	identical := bytes.Equal(payload, sh.lastSent)
	if !identical {
		sh.lastSent = payload
	}
	subs := make([]*client, 0, len(sh.subs))
	for c := range sh.subs {
		subs = append(subs, c)
	}
	sh.mu.Unlock()

	if !identical {
		frame := encodeBufferEnvelope(sessionID, payload)
		for _, c := range subs {
			h.send(c, frame)
		}
	}

	if rerun {
		h.NotifyUpdate(sessionID)
	}
}

// send delivers frame to c, preferring its open WebRTC DataChannel (if the
// hub has a P2PManager and one is open for c) over the shared WebSocket.
func (h *Hub) send(c *client, frame []byte) {
	if h.p2p != nil && h.p2p.TrySendDirect(c.id, frame) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- frame:
	default:
		logger.Debug("wsbuffer: dropping frame for slow subscriber")
	}
}
