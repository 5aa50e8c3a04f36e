package stream

import (
	"net/http"
	"sync"

	"github.com/vibetunnel/vibetunneld/internal/logger"
)

// Registry maps session IDs to their (lazily started) Tail, so every
// session gets at most one file tail no matter how many SSE clients
// subscribe to it.
type Registry struct {
	mu    sync.Mutex
	tails map[string]*Tail
}

// NewRegistry creates an empty Tail registry.
func NewRegistry() *Registry {
	return &Registry{tails: make(map[string]*Tail)}
}

func (reg *Registry) tailFor(sessionID, path string) *Tail {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	t, ok := reg.tails[sessionID]
	if !ok {
		t = NewTail(path)
		reg.tails[sessionID] = t
	}
	return t
}

// Forget stops and removes a session's tail, called once the session has
// fully exited and been cleaned up.
func (reg *Registry) Forget(sessionID string) {
	reg.mu.Lock()
	t, ok := reg.tails[sessionID]
	delete(reg.tails, sessionID)
	reg.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// ServeHTTP streams one session's asciicast log as SSE (§4.8 GET
// /api/sessions/:id/stream). path is the session's stdout asciicast file.
func (reg *Registry) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID, path string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	tail := reg.tailFor(sessionID, path)
	messages, unsubscribe := tail.Subscribe()
	defer unsubscribe()

	log := logger.With("stream.handler")
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				log.Debug("sse write failed", "session", sessionID, "err", err)
				return
			}
			flusher.Flush()
		}
	}
}
