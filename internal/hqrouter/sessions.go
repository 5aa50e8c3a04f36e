package hqrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
	"github.com/vibetunnel/vibetunneld/internal/logger"
	"github.com/vibetunnel/vibetunneld/internal/registry"
)

// RemoteFailure records one remote that did not respond to a fan-out
// call; per routing rule 3, a failing remote never fails the aggregate.
type RemoteFailure struct {
	RemoteID string `json:"remoteId"`
	Name     string `json:"name"`
	Error    string `json:"error"`
}

// ListAll tags the caller's locally-owned sessions source:"local" and
// merges them with a parallel GET /api/sessions fan-out to every
// registered remote, tagging each remote entry with source:"remote" and
// the owning remote's id.
func (rt *Router) ListAll(ctx context.Context, localSessions []map[string]any) ([]map[string]any, []RemoteFailure) {
	for _, s := range localSessions {
		s["source"] = "local"
	}

	remotes := rt.Registry.GetRemotes()
	if len(remotes) == 0 {
		return localSessions, nil
	}

	type result struct {
		sessions []map[string]any
		fail     *RemoteFailure
	}
	results := make([]result, len(remotes))

	var wg sync.WaitGroup
	for i, info := range remotes {
		wg.Add(1)
		go func(i int, info registry.Info) {
			defer wg.Done()
			remote, ok := rt.Registry.GetRemote(info.ID)
			if !ok {
				return
			}
			resp, err := rt.forward(ctx, remote, listTimeout, http.MethodGet, "/api/sessions", nil)
			if err != nil {
				results[i].fail = &RemoteFailure{RemoteID: info.ID, Name: info.Name, Error: err.Error()}
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				results[i].fail = &RemoteFailure{RemoteID: info.ID, Name: info.Name, Error: fmt.Sprintf("status %d", resp.StatusCode)}
				return
			}
			var sessions []map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
				results[i].fail = &RemoteFailure{RemoteID: info.ID, Name: info.Name, Error: "decode: " + err.Error()}
				return
			}
			for _, s := range sessions {
				s["source"] = "remote"
				s["remoteId"] = info.ID
			}
			results[i].sessions = sessions
		}(i, info)
	}
	wg.Wait()

	merged := localSessions
	var failures []RemoteFailure
	for _, r := range results {
		if r.fail != nil {
			logger.Warn("remote list fan-out failed", "remote", r.fail.Name, "error", r.fail.Error)
			failures = append(failures, *r.fail)
			continue
		}
		merged = append(merged, r.sessions...)
	}
	return merged, failures
}

// CreateOnRemote forwards a POST /api/sessions body to the named remote
// (routing rule 4; remoteId has already been stripped by the caller) and
// decodes the {sessionId} response. On success it records the new
// session against that remote in the registry.
func (rt *Router) CreateOnRemote(ctx context.Context, remoteID string, body []byte) (string, error) {
	remote, ok := rt.Registry.GetRemote(remoteID)
	if !ok {
		return "", apierr.NotFound(fmt.Sprintf("unknown remote %s", remoteID))
	}
	resp, err := rt.forward(ctx, remote, createTimeout, http.MethodPost, "/api/sessions", bodyReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", apierr.UpstreamStatus(resp.StatusCode, string(raw))
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apierr.IOFailed("decode remote create response", err)
	}
	if err := rt.Registry.AddSessionToRemote(remoteID, out.SessionID); err != nil {
		logger.Warn("failed to record remote session ownership", "remote", remoteID, "session", out.SessionID, "error", err)
	}
	return out.SessionID, nil
}

// ProxyJSON forwards a session-scoped JSON request to the owning remote
// and relays its status code and body verbatim. Used for get/delete/
// cleanup/activity/input/resize/reset-size — every route whose response
// is a single JSON document rather than a stream. A zero timeout selects
// the per-call default: cleanupTimeout for cleanup routes, else inputTimeout.
func (rt *Router) ProxyJSON(ctx context.Context, remote *registry.Remote, timeout time.Duration, method, path string, body []byte) (int, []byte, error) {
	if timeout == 0 {
		timeout = inputTimeout
		if strings.HasSuffix(path, "/cleanup") || path == "/api/cleanup-exited" {
			timeout = cleanupTimeout
		}
	}
	resp, err := rt.forward(ctx, remote, timeout, method, path, bodyReader(body))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apierr.IOFailed("read remote response", err)
	}
	return resp.StatusCode, raw, nil
}

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}
