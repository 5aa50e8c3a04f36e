package hqrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibetunnel/vibetunneld/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(":memory:")
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestListAllMergesLocalAndRemote(t *testing.T) {
	remoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"id": "remote-sess-1", "name": "remote shell"}})
	}))
	defer remoteSrv.Close()

	reg := testRegistry(t)
	rem, _, err := reg.Register("remote-a", remoteSrv.URL)
	if err != nil {
		t.Fatalf("register remote: %v", err)
	}
	if err := reg.AddSessionToRemote(rem.ID, "remote-sess-1"); err != nil {
		t.Fatalf("add session to remote: %v", err)
	}

	rt := NewRouter(reg)
	local := []map[string]any{{"id": "local-sess-1", "name": "local shell"}}
	merged, failures := rt.ListAll(context.Background(), local)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged sessions, got %d: %v", len(merged), merged)
	}

	var sawLocal, sawRemote bool
	for _, s := range merged {
		switch s["id"] {
		case "local-sess-1":
			sawLocal = true
			if s["source"] != "local" {
				t.Errorf("local session not tagged source=local: %v", s)
			}
		case "remote-sess-1":
			sawRemote = true
			if s["source"] != "remote" || s["remoteId"] != rem.ID {
				t.Errorf("remote session not tagged correctly: %v", s)
			}
		}
	}
	if !sawLocal || !sawRemote {
		t.Fatalf("missing expected sessions in merge: %v", merged)
	}
}

func TestListAllToleratesRemoteFailure(t *testing.T) {
	reg := testRegistry(t)
	if _, _, err := reg.Register("dead-remote", "http://127.0.0.1:1"); err != nil {
		t.Fatalf("register remote: %v", err)
	}

	rt := NewRouter(reg)
	merged, failures := rt.ListAll(context.Background(), nil)

	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if len(merged) != 0 {
		t.Fatalf("expected no sessions from a failing remote, got %v", merged)
	}
}

func TestOwningRemote(t *testing.T) {
	reg := testRegistry(t)
	rem, _, err := reg.Register("remote-b", "http://example.invalid")
	if err != nil {
		t.Fatalf("register remote: %v", err)
	}
	if err := reg.AddSessionToRemote(rem.ID, "sess-xyz"); err != nil {
		t.Fatalf("add session: %v", err)
	}

	rt := NewRouter(reg)
	found, ok := rt.OwningRemote("sess-xyz")
	if !ok || found.ID != rem.ID {
		t.Fatalf("expected to find owning remote %s, got %v ok=%v", rem.ID, found, ok)
	}

	if _, ok := rt.OwningRemote("unknown-session"); ok {
		t.Fatal("expected unknown session to have no owning remote")
	}
}
