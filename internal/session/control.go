package session

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/vibetunnel/vibetunneld/internal/logger"
)

// controlRequest is one line of the control socket protocol (§6.2):
// {"type":"input"|"resize"|"kill", ...}.
type controlRequest struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Key    string `json:"key,omitempty"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Signal string `json:"signal,omitempty"`
}

type controlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// controlHandler is implemented by Manager; kept as an interface so
// control.go has no import-cycle dependency on manager.go's concrete type.
type controlHandler interface {
	handleInput(sessionID string, req controlRequest) error
	handleResize(sessionID string, cols, rows int) error
	handleKill(sessionID string, signal string) error
}

// controlListener serves one unix domain socket per session, accepting a
// single client connection at a time (§6.2: "single-client-at-a-time
// serialization").
type controlListener struct {
	sessionID string
	socket    net.Listener
	handler   controlHandler
	mu        sync.Mutex // serializes accept loop against Close
	closed    bool
}

func newControlListener(path, sessionID string, handler controlHandler) (*controlListener, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	cl := &controlListener{sessionID: sessionID, socket: ln, handler: handler}
	go cl.acceptLoop()
	return cl, nil
}

func (cl *controlListener) acceptLoop() {
	for {
		conn, err := cl.socket.Accept()
		if err != nil {
			return
		}
		cl.serveConn(conn)
	}
}

// serveConn handles one client connection to completion before accepting
// the next, enforcing single-client-at-a-time semantics.
func (cl *controlListener) serveConn(conn net.Conn) {
	defer conn.Close()
	log := logger.With("session.control")
	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)
	for {
		var req controlRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		reply := cl.dispatch(req)
		if err := enc.Encode(reply); err != nil {
			log.Debug("control write failed", "session", cl.sessionID, "err", err)
			return
		}
	}
}

func (cl *controlListener) dispatch(req controlRequest) controlReply {
	var err error
	switch req.Type {
	case "input":
		err = cl.handler.handleInput(cl.sessionID, req)
	case "resize":
		err = cl.handler.handleResize(cl.sessionID, req.Cols, req.Rows)
	case "kill":
		err = cl.handler.handleKill(cl.sessionID, req.Signal)
	default:
		return controlReply{OK: false, Error: "unknown request type: " + req.Type}
	}
	if err != nil {
		return controlReply{OK: false, Error: err.Error()}
	}
	return controlReply{OK: true}
}

func (cl *controlListener) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return nil
	}
	cl.closed = true
	err := cl.socket.Close()
	os.Remove(cl.socket.Addr().String())
	return err
}
