// Package api implements the session API surface (C10): the HTTP route
// table from §4.8, wiring the session manager, stream watcher, buffer
// aggregator, and (in HQ mode) the router together behind one mux, in
// the style of relay/server.go's http.NewServeMux + Go 1.22
// method-pattern routes.
package api

import (
	"net/http"

	"github.com/vibetunnel/vibetunneld/internal/hqrouter"
	"github.com/vibetunnel/vibetunneld/internal/session"
	"github.com/vibetunnel/vibetunneld/internal/stream"
	"github.com/vibetunnel/vibetunneld/internal/wsbuffer"
)

// Server is the core HTTP surface. Router is nil unless this node is
// running in HQ mode (§4.7); handlers fall back to local-only behavior
// when it is nil.
type Server struct {
	Sessions *session.Manager
	Streams  *stream.Registry
	Buffers  *wsbuffer.Hub
	Router   *hqrouter.Router

	mux *http.ServeMux
}

// NewServer wires every §4.8 route. buffers and router may be nil for a
// standalone (non-HQ, non-federated) node.
func NewServer(sessions *session.Manager, streams *stream.Registry, buffers *wsbuffer.Hub, router *hqrouter.Router) *Server {
	s := &Server{
		Sessions: sessions,
		Streams:  streams,
		Buffers:  buffers,
		Router:   router,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/activity", s.handleAllActivity)
	s.mux.HandleFunc("POST /api/cleanup-exited", s.handleCleanupExited)

	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleKillSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/cleanup", s.handleCleanupSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/activity", s.handleSessionActivity)
	s.mux.HandleFunc("GET /api/sessions/{id}/text", s.handleSessionText)
	s.mux.HandleFunc("GET /api/sessions/{id}/buffer", s.handleSessionBuffer)
	s.mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleSessionStream)
	s.mux.HandleFunc("POST /api/sessions/{id}/input", s.handleSessionInput)
	s.mux.HandleFunc("POST /api/sessions/{id}/resize", s.handleSessionResize)
	s.mux.HandleFunc("POST /api/sessions/{id}/reset-size", s.handleSessionResetSize)

	s.mux.HandleFunc("GET /ws/buffers", s.handleBufferWS)

	if router != nil {
		s.mux.HandleFunc("POST /api/remotes", s.handleRegisterRemote)
		s.mux.HandleFunc("POST /api/remotes/register", s.handleRegisterRemote)
		s.mux.HandleFunc("GET /api/remotes", s.handleListRemotes)
		s.mux.HandleFunc("DELETE /api/remotes/{id}", s.handleUnregisterRemote)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
