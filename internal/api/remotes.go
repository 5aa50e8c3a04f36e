package api

import (
	"encoding/json"
	"net/http"
)

type registerRemoteRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// handleRegisterRemote implements POST /api/remotes and its alias
// POST /api/remotes/register (HQ mode only): register(remoteInfo) per §4.7,
// returning the bearer token HQ sends to the remote on its health checks
// and forwarded requests.
func (s *Server) handleRegisterRemote(w http.ResponseWriter, r *http.Request) {
	var req registerRemoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	remote, token, err := s.Router.Registry.Register(req.Name, req.URL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    remote.ID,
		"name":  remote.Name,
		"url":   remote.URL,
		"token": token,
	})
}

// handleListRemotes implements GET /api/remotes (HQ mode only).
func (s *Server) handleListRemotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Router.Registry.GetRemotes())
}

// handleUnregisterRemote implements DELETE /api/remotes/{id}.
func (s *Server) handleUnregisterRemote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Router.Registry.Unregister(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
