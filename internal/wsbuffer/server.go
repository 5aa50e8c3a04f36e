package wsbuffer

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/vibetunnel/vibetunneld/internal/logger"
)

const writeTimeout = 5 * time.Second

// ServeHTTP upgrades the request to a WebSocket and serves the buffer
// aggregator protocol until the client disconnects (§4.8 GET
// /ws?session=:id, and the bare /ws multi-session endpoint).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	log := logger.With("wsbuffer")
	ctx := r.Context()
	c := newClient()
	defer h.UnsubscribeAll(c)
	defer conn.Close(websocket.StatusNormalClosure, "")
	if h.p2p != nil {
		defer h.p2p.ClosePeer(c.id)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range c.out {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}()

	sendJSON(ctx, conn, serverMessage{Type: "connected"})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendJSON(ctx, conn, serverMessage{Type: "error", Message: "invalid message"})
			continue
		}
		switch msg.Type {
		case "subscribe":
			frame, ok := h.Subscribe(c, msg.SessionID)
			if !ok {
				sendJSON(ctx, conn, serverMessage{Type: "error", SessionID: msg.SessionID, Message: "unknown session"})
				continue
			}
			// Ack is written synchronously here, before frame is handed to
			// the writer goroutine, so it always reaches the client first.
			sendJSON(ctx, conn, serverMessage{Type: "subscribed", SessionID: msg.SessionID})
			h.Deliver(c, frame)
		case "unsubscribe":
			h.Unsubscribe(c, msg.SessionID)
			sendJSON(ctx, conn, serverMessage{Type: "unsubscribed", SessionID: msg.SessionID})
		case "ping":
			sendJSON(ctx, conn, serverMessage{Type: "pong"})
		case "webrtc-offer":
			if h.p2p == nil {
				sendJSON(ctx, conn, serverMessage{Type: "error", Message: "p2p not enabled"})
				continue
			}
			answer, err := h.p2p.HandleOffer(c.id, msg.SDP)
			if err != nil {
				log.Debug("wsbuffer: p2p offer failed", "err", err)
				sendJSON(ctx, conn, serverMessage{Type: "error", Message: "webrtc negotiation failed"})
				continue
			}
			sendJSON(ctx, conn, serverMessage{Type: "webrtc-answer", SDP: answer})
		default:
			sendJSON(ctx, conn, serverMessage{Type: "error", Message: "unknown message type: " + msg.Type})
		}
	}

	c.Close()
	<-writerDone
	log.Debug("wsbuffer connection closed")
}

func sendJSON(ctx context.Context, conn *websocket.Conn, msg serverMessage) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	conn.Write(wctx, websocket.MessageText, marshalServerMessage(msg))
}
