package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func open(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndGetRemote(t *testing.T) {
	reg := open(t)

	rem, token, err := reg.Register("laptop", "http://127.0.0.1:4021")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty bearer token")
	}
	if rem.Token != token {
		t.Fatalf("remote.Token %q != issued token %q", rem.Token, token)
	}

	got, ok := reg.GetRemote(rem.ID)
	if !ok {
		t.Fatal("expected to find registered remote")
	}
	if got.Name != "laptop" || got.URL != "http://127.0.0.1:4021" {
		t.Errorf("unexpected remote: %+v", got)
	}
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	reg := open(t)
	if _, _, err := reg.Register("desktop", "http://a"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, _, err := reg.Register("desktop", "http://b"); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}

func TestUnregisterRemovesRemoteAndSessions(t *testing.T) {
	reg := open(t)
	rem, _, err := reg.Register("desktop", "http://a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.AddSessionToRemote(rem.ID, "sess-1"); err != nil {
		t.Fatalf("add session: %v", err)
	}

	if err := reg.Unregister(rem.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := reg.GetRemote(rem.ID); ok {
		t.Fatal("expected remote to be gone after unregister")
	}
	if _, ok := reg.GetRemoteBySessionID("sess-1"); ok {
		t.Fatal("expected session mapping to be gone after unregister")
	}
}

func TestUnregisterUnknownIsNotFound(t *testing.T) {
	reg := open(t)
	if err := reg.Unregister("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown remote id")
	}
}

func TestSessionMappingLifecycle(t *testing.T) {
	reg := open(t)
	rem, _, err := reg.Register("desktop", "http://a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.AddSessionToRemote(rem.ID, "sess-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Adding the same session twice should not duplicate it.
	if err := reg.AddSessionToRemote(rem.ID, "sess-1"); err != nil {
		t.Fatalf("add again: %v", err)
	}

	found, ok := reg.GetRemoteBySessionID("sess-1")
	if !ok || found.ID != rem.ID {
		t.Fatalf("expected sess-1 owned by %s, got %v ok=%v", rem.ID, found, ok)
	}

	if err := reg.RemoveSessionFromRemote("sess-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := reg.GetRemoteBySessionID("sess-1"); ok {
		t.Fatal("expected session to be unmapped after remove")
	}
}

func TestUpdateRemoteSessionsReplacesSet(t *testing.T) {
	reg := open(t)
	rem, _, err := reg.Register("desktop", "http://a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.UpdateRemoteSessions(rem.ID, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := reg.GetRemote(rem.ID)
	if !ok || len(got.SessionIDs) != 3 {
		t.Fatalf("expected 3 sessions after update, got %v", got)
	}

	if err := reg.UpdateRemoteSessions(rem.ID, []string{"z"}); err != nil {
		t.Fatalf("update again: %v", err)
	}
	got, _ = reg.GetRemote(rem.ID)
	if len(got.SessionIDs) != 1 || got.SessionIDs[0] != "z" {
		t.Fatalf("expected replaced session set [z], got %v", got.SessionIDs)
	}
}

func TestGetRemotesReportsFreshRemoteHealthy(t *testing.T) {
	reg := open(t)
	if _, _, err := reg.Register("desktop", "http://a"); err != nil {
		t.Fatalf("register: %v", err)
	}

	all := reg.GetRemotes()
	if len(all) != 1 {
		t.Fatalf("expected 1 remote, got %d", len(all))
	}
	if !all[0].Healthy {
		t.Error("freshly registered remote should start healthy")
	}
}

func TestCheckOneHealthyAndUnhealthy(t *testing.T) {
	reg := open(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rem, _, err := reg.Register("healthy", srv.URL)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reg.checkOne(rem) {
		t.Error("expected healthy remote to report healthy")
	}

	dead, _, err := reg.Register("dead", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("register dead: %v", err)
	}
	if reg.checkOne(dead) {
		t.Error("expected unreachable remote to report unhealthy")
	}
}

func TestCheckAllEvictsAfterRepeatedFailures(t *testing.T) {
	reg := open(t)
	rem, _, err := reg.Register("flaky", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < healthFailureEvict-1; i++ {
		reg.checkAll()
		if _, ok := reg.GetRemote(rem.ID); !ok {
			t.Fatalf("evicted too early, after %d failed checks", i+1)
		}
	}
	reg.checkAll()
	if _, ok := reg.GetRemote(rem.ID); ok {
		t.Fatal("expected remote to be evicted after repeated health failures")
	}
}

func TestCheckAllResetsFailuresOnSuccess(t *testing.T) {
	reg := open(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rem, _, err := reg.Register("recovering", srv.URL)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.checkAll()
	reg.checkAll()

	got, ok := reg.GetRemote(rem.ID)
	if !ok {
		t.Fatal("expected remote to still be registered")
	}
	if got.failures != 0 {
		t.Errorf("expected failures reset to 0 after healthy checks, got %d", got.failures)
	}
}
