package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
	"github.com/vibetunnel/vibetunneld/internal/registry"
	"github.com/vibetunnel/vibetunneld/internal/session"
)

type createSessionRequest struct {
	Command       []string `json:"command"`
	WorkingDir    string   `json:"workingDir"`
	Name          string   `json:"name"`
	RemoteID      string   `json:"remoteId,omitempty"`
	SpawnTerminal bool     `json:"spawn_terminal,omitempty"`
}

// handleListSessions implements GET /api/sessions, merging local sessions
// with a remote fan-out when running as HQ (routing rule 3).
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	local := toMapSlice(s.Sessions.ListSessions())

	if s.Router == nil {
		writeJSON(w, http.StatusOK, local)
		return
	}
	merged, failures := s.Router.ListAll(r.Context(), local)
	if len(failures) > 0 {
		w.Header().Set("X-Remote-Failures", strconv.Itoa(len(failures)))
	}
	writeJSON(w, http.StatusOK, merged)
}

func toMapSlice(infos []session.Info) []map[string]any {
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		data, _ := json.Marshal(info)
		var m map[string]any
		json.Unmarshal(data, &m)
		out = append(out, m)
	}
	return out
}

// handleCreateSession implements POST /api/sessions (routing rule 4 when
// remoteId is present; §6.3 external-terminal handoff otherwise).
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Command) == 0 {
		writeError(w, http.StatusBadRequest, "command must not be empty")
		return
	}

	if req.RemoteID != "" {
		if s.Router == nil {
			writeError(w, http.StatusNotFound, "this node is not HQ: remoteId is not supported")
			return
		}
		body, _ := json.Marshal(createSessionRequest{
			Command:    req.Command,
			WorkingDir: req.WorkingDir,
			Name:       req.Name,
		})
		sessionID, err := s.Router.CreateOnRemote(r.Context(), req.RemoteID, body)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
		return
	}

	if req.SpawnTerminal {
		candidateID := uuid.NewString()
		if trySpawnExternalTerminal("", candidateID, req.WorkingDir, req.Command) {
			writeJSON(w, http.StatusOK, map[string]string{"sessionId": candidateID})
			return
		}
	}

	sess, err := s.Sessions.CreateSession(session.RunConfig{
		Name: req.Name,
		Argv: req.Command,
		CWD:  req.WorkingDir,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

// handleAllActivity implements GET /api/sessions/activity.
func (s *Server) handleAllActivity(w http.ResponseWriter, r *http.Request) {
	infos := s.Sessions.ListSessions()
	out := make(map[string]session.Activity, len(infos))
	for _, info := range infos {
		sess, err := s.Sessions.GetSession(info.ID)
		if err != nil {
			continue
		}
		out[info.ID] = sess.Activity()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCleanupExited implements POST /api/cleanup-exited.
func (s *Server) handleCleanupExited(w http.ResponseWriter, r *http.Request) {
	removed, _ := s.Sessions.CleanupExitedSessions()

	resp := map[string]any{"localCleaned": removed}
	if s.Router != nil {
		remotes := s.Router.Registry.GetRemotes()
		results := make([]map[string]any, 0, len(remotes))
		for _, rem := range remotes {
			remote, ok := s.Router.Registry.GetRemote(rem.ID)
			if !ok {
				continue
			}
			status, body, err := s.Router.ProxyJSON(r.Context(), remote, 0, http.MethodPost, "/api/cleanup-exited", nil)
			entry := map[string]any{"remoteId": rem.ID, "name": rem.Name}
			if err != nil {
				entry["error"] = err.Error()
			} else {
				var decoded map[string]any
				json.Unmarshal(body, &decoded)
				entry["status"] = status
				entry["result"] = decoded
			}
			results = append(results, entry)
		}
		resp["remoteResults"] = results
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveLocal fetches a session by id, returning (session, true) if
// owned locally, or (nil, false) if not found locally at all.
func (s *Server) resolveLocal(id string) (*session.Session, bool) {
	sess, err := s.Sessions.GetSession(id)
	if err != nil {
		return nil, false
	}
	return sess, true
}

// ownedRemote looks up the remote owning id, safe to call whether or not
// this node is running in HQ mode.
func (s *Server) ownedRemote(id string) (*registry.Remote, bool) {
	if s.Router == nil {
		return nil, false
	}
	return s.Router.OwningRemote(id)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.resolveLocal(id); ok {
		writeJSON(w, http.StatusOK, sess.Snapshot())
		return
	}
	s.proxyOrNotFound(w, r, id, http.MethodGet, "/api/sessions/"+id, nil)
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.resolveLocal(id); ok {
		if err := s.Sessions.KillSession(id, r.URL.Query().Get("signal")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	path := "/api/sessions/" + id
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	s.proxyOrNotFound(w, r, id, http.MethodDelete, path, nil)
}

func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.resolveLocal(id); ok {
		if err := s.Sessions.CleanupSession(id); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	s.proxyOrNotFound(w, r, id, http.MethodDelete, "/api/sessions/"+id+"/cleanup", nil)
}

func (s *Server) handleSessionActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.resolveLocal(id); ok {
		writeJSON(w, http.StatusOK, sess.Activity())
		return
	}
	s.proxyOrNotFound(w, r, id, http.MethodGet, "/api/sessions/"+id+"/activity", nil)
}

func (s *Server) handleSessionText(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.resolveLocal(id); ok {
		withStyles := r.URL.Query().Has("styles")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(sess.Text(withStyles)))
		return
	}
	if remote, ok := s.ownedRemote(id); ok {
		path := "/api/sessions/" + id + "/text"
		if r.URL.Query().Has("styles") {
			path += "?styles"
		}
		if err := s.Router.ProxyText(w, r, remote, path); err != nil {
			writeErr(w, err)
		}
		return
	}
	writeError(w, http.StatusNotFound, "session not found")
}

func (s *Server) handleSessionBuffer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.resolveLocal(id); ok {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(sess.Buffer())
		return
	}
	if remote, ok := s.ownedRemote(id); ok {
		if err := s.Router.ProxyBuffer(w, r, remote, "/api/sessions/"+id+"/buffer"); err != nil {
			writeErr(w, err)
		}
		return
	}
	writeError(w, http.StatusNotFound, "session not found")
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.resolveLocal(id); ok {
		paths, err := s.Sessions.GetSessionPaths(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		s.Streams.ServeHTTP(w, r, id, paths.StdoutPath)
		return
	}
	if remote, ok := s.ownedRemote(id); ok {
		if err := s.Router.ProxyStream(w, r, remote, "/api/sessions/"+id+"/stream"); err != nil {
			writeErr(w, err)
		}
		return
	}
	writeError(w, http.StatusNotFound, "session not found")
}

type inputRequest struct {
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)
	if _, ok := s.resolveLocal(id); ok {
		var req inputRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if (req.Text == "") == (req.Key == "") {
			writeError(w, http.StatusBadRequest, "exactly one of text or key is required")
			return
		}
		if err := s.Sessions.SendInput(id, req.Text, req.Key); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	s.proxyOrNotFound(w, r, id, http.MethodPost, "/api/sessions/"+id+"/input", body)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleSessionResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)
	if _, ok := s.resolveLocal(id); ok {
		var req resizeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Cols < 1 || req.Cols > 1000 || req.Rows < 1 || req.Rows > 1000 {
			writeError(w, http.StatusBadRequest, "cols and rows must be in 1..1000")
			return
		}
		if err := s.Sessions.ResizeSession(id, req.Cols, req.Rows); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "cols": req.Cols, "rows": req.Rows})
		return
	}
	s.proxyOrNotFound(w, r, id, http.MethodPost, "/api/sessions/"+id+"/resize", body)
}

func (s *Server) handleSessionResetSize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.resolveLocal(id); ok {
		cols, rows := sess.Dimensions()
		if err := s.Sessions.ResetSessionSize(id, cols, rows); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	s.proxyOrNotFound(w, r, id, http.MethodPost, "/api/sessions/"+id+"/reset-size", nil)
}

// handleBufferWS implements GET /ws/buffers, delegating straight to the
// buffer aggregator's WebSocket handler.
func (s *Server) handleBufferWS(w http.ResponseWriter, r *http.Request) {
	if s.Buffers == nil {
		writeError(w, http.StatusServiceUnavailable, "buffer aggregator not enabled")
		return
	}
	s.Buffers.ServeHTTP(w, r)
}

// proxyOrNotFound forwards a JSON request to the owning remote, or
// returns 404 if neither local nor (in HQ mode) a registered remote owns
// the session.
func (s *Server) proxyOrNotFound(w http.ResponseWriter, r *http.Request, id, method, path string, body []byte) {
	if s.Router == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	remote, ok := s.Router.OwningRemote(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	status, respBody, err := s.Router.ProxyJSON(r.Context(), remote, 0, method, path, body)
	if err != nil {
		if e, ok := apierr.As(err); ok {
			writeErr(w, e)
			return
		}
		writeErr(w, err)
		return
	}
	relayRemoteJSON(w, status, respBody)
}
