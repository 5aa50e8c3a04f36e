package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/session"
	"github.com/vibetunnel/vibetunneld/internal/stream"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	sessions := session.NewManager(t.TempDir())
	streams := stream.NewRegistry()
	return NewServer(sessions, streams, nil, nil)
}

func createTestSession(t *testing.T, srv *Server, argv []string) string {
	t.Helper()
	body, _ := json.Marshal(createSessionRequest{Command: argv, Name: "test"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("create session: status %d body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id := resp["sessionId"]
	if id == "" {
		t.Fatal("expected a session id in the response")
	}
	return id
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	srv := testServer(t)
	id := createTestSession(t, srv, []string{"/usr/bin/cat"})
	defer srv.Sessions.KillSession(id, "")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get session: status %d body %s", w.Code, w.Body.String())
	}

	var info session.Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session info: %v", err)
	}
	if info.ID != id || info.Name != "test" {
		t.Errorf("unexpected session info: %+v", info)
	}
}

func TestCreateSessionRejectsEmptyCommand(t *testing.T) {
	srv := testServer(t)
	body, _ := json.Marshal(createSessionRequest{Command: nil})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty command, got %d", w.Code)
	}
}

func TestListSessionsIncludesCreated(t *testing.T) {
	srv := testServer(t)
	id := createTestSession(t, srv, []string{"/usr/bin/cat"})
	defer srv.Sessions.KillSession(id, "")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list sessions: status %d", w.Code)
	}

	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	found := false
	for _, s := range list {
		if s["id"] == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected created session %s in list %v", id, list)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", w.Code)
	}
}

func TestKillSession(t *testing.T) {
	srv := testServer(t)
	id := createTestSession(t, srv, []string{"/usr/bin/cat"})

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("kill session: status %d body %s", w.Code, w.Body.String())
	}
}

func TestSessionInputAndText(t *testing.T) {
	srv := testServer(t)
	id := createTestSession(t, srv, []string{"/usr/bin/cat"})
	defer srv.Sessions.KillSession(id, "")

	inputBody, _ := json.Marshal(map[string]string{"text": "hello\n"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/input", bytes.NewReader(inputBody))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("send input: status %d body %s", w.Code, w.Body.String())
	}

	// Give cat a moment to echo the input back through the pty.
	time.Sleep(100 * time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/text", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get text: status %d", w.Code)
	}
}

func TestSessionResize(t *testing.T) {
	srv := testServer(t)
	id := createTestSession(t, srv, []string{"/usr/bin/cat"})
	defer srv.Sessions.KillSession(id, "")

	body, _ := json.Marshal(map[string]int{"cols": 100, "rows": 40})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/resize", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resize: status %d body %s", w.Code, w.Body.String())
	}
}

func TestCleanupExited(t *testing.T) {
	srv := testServer(t)
	id := createTestSession(t, srv, []string{"/usr/bin/true"})

	// Let the short-lived process exit on its own.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := srv.Sessions.GetSession(id)
		if err != nil {
			break
		}
		if sess.Snapshot().Status == "exited" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/cleanup-exited", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cleanup-exited: status %d body %s", w.Code, w.Body.String())
	}
}
