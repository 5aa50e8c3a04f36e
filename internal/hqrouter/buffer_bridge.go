package hqrouter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vibetunnel/vibetunneld/internal/logger"
	"github.com/vibetunnel/vibetunneld/internal/registry"
	"github.com/vibetunnel/vibetunneld/internal/wsbuffer"
)

const (
	bridgeWriteTimeout = 10 * time.Second
	bridgeReconnectMax = 10 * time.Second
)

// BufferBridge shares one upstream buffer WebSocket per remote (routing
// rule 6), subscribing on demand as local clients ask for remote-owned
// sessions, and caches the latest snapshot per session so it can serve
// wsbuffer.SnapshotSource directly. Grounded on ws/client.go's
// reconnect-with-backoff client loop, applied to the buffer-aggregator
// protocol instead of the wing control protocol.
type BufferBridge struct {
	router *Router
	notify func(sessionID string)

	mu       sync.Mutex
	conns    map[string]*bridgeConn // remote id -> upstream connection
	snapshot map[string][]byte      // session id -> last payload
}

type bridgeConn struct {
	conn   *websocket.Conn
	wanted map[string]struct{} // session ids subscribed upstream
}

// NewBufferBridge builds a bridge that calls notify(sessionID) whenever a
// fresh snapshot arrives for a remote-owned session, so the caller can
// forward into its local wsbuffer.Hub via NotifyUpdate.
func NewBufferBridge(router *Router, notify func(sessionID string)) *BufferBridge {
	return &BufferBridge{
		router:   router,
		notify:   notify,
		conns:    make(map[string]*bridgeConn),
		snapshot: make(map[string][]byte),
	}
}

// Snapshot implements wsbuffer.SnapshotSource for remote-owned sessions.
func (b *BufferBridge) Snapshot(sessionID string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.snapshot[sessionID]
	return payload, ok
}

// EnsureSubscribed makes sure the bridge has an upstream subscription for
// sessionID on the given remote, dialing the remote's buffer WS lazily if
// needed.
func (b *BufferBridge) EnsureSubscribed(ctx context.Context, remote *registry.Remote, sessionID string) {
	b.mu.Lock()
	bc, ok := b.conns[remote.ID]
	if !ok {
		bc = &bridgeConn{wanted: make(map[string]struct{})}
		b.conns[remote.ID] = bc
		b.mu.Unlock()
		go b.runConn(remote, bc)
	} else {
		b.mu.Unlock()
	}

	b.mu.Lock()
	_, already := bc.wanted[sessionID]
	bc.wanted[sessionID] = struct{}{}
	conn := bc.conn
	b.mu.Unlock()

	if !already && conn != nil {
		b.sendSubscribe(conn, sessionID)
	}
}

func (b *BufferBridge) sendSubscribe(conn *websocket.Conn, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bridgeWriteTimeout)
	defer cancel()
	msg, _ := json.Marshal(map[string]string{"type": "subscribe", "sessionId": sessionID})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		logger.Warn("buffer bridge: subscribe write failed", "session", sessionID, "error", err)
	}
}

// runConn owns one remote's upstream connection for its lifetime,
// reconnecting with capped backoff on failure; the loop has no exit.
func (b *BufferBridge) runConn(remote *registry.Remote, bc *bridgeConn) {
	delay := time.Second
	wsURL := httpToWS(remote.URL) + "/ws/buffers"
	for {
		conn, _, err := websocket.Dial(context.Background(), wsURL, &websocket.DialOptions{
			HTTPHeader: authHeader(remote.Token),
		})
		if err != nil {
			logger.Warn("buffer bridge: dial failed", "remote", remote.Name, "error", err)
			time.Sleep(delay)
			delay = minDuration(delay*2, bridgeReconnectMax)
			continue
		}
		delay = time.Second

		b.mu.Lock()
		bc.conn = conn
		pending := make([]string, 0, len(bc.wanted))
		for sid := range bc.wanted {
			pending = append(pending, sid)
		}
		b.mu.Unlock()
		for _, sid := range pending {
			b.sendSubscribe(conn, sid)
		}

		b.readLoop(conn)

		b.mu.Lock()
		bc.conn = nil
		b.mu.Unlock()
		time.Sleep(delay)
	}
}

func (b *BufferBridge) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		sessionID, payload, ok := wsbuffer.DecodeBufferEnvelope(data)
		if !ok {
			continue
		}
		b.mu.Lock()
		b.snapshot[sessionID] = append([]byte(nil), payload...)
		b.mu.Unlock()
		if b.notify != nil {
			b.notify(sessionID)
		}
	}
}

func authHeader(token string) map[string][]string {
	return map[string][]string{"Authorization": {"Bearer " + token}}
}

func httpToWS(url string) string {
	switch {
	case len(url) >= 5 && url[:5] == "https":
		return "wss" + url[5:]
	case len(url) >= 4 && url[:4] == "http":
		return "ws" + url[4:]
	default:
		return url
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
