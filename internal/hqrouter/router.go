// Package hqrouter implements the HQ router (C9): forwarding of
// session-scoped requests to the remote node that owns the session, and
// fan-out aggregation across the cluster for list operations. Every
// session endpoint is identical between HQ and remote (§6.4), so the
// router proxies HTTP verbatim rather than re-modeling the session API,
// mirroring the forward-by-lookup shape of relay/internal_api.go and
// relay/pty_relay.go applied to session ids instead of wing ids.
package hqrouter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
	"github.com/vibetunnel/vibetunneld/internal/registry"
)

const (
	listTimeout    = 5 * time.Second
	createTimeout  = 10 * time.Second
	inputTimeout   = 5 * time.Second
	cleanupTimeout = 10 * time.Second
	bufferTimeout  = 5 * time.Second
)

// Router decides, per session id, whether a request is served locally or
// forwarded to the owning remote, and performs the forwarding.
type Router struct {
	Registry   *registry.Registry
	httpClient *http.Client
}

// NewRouter builds a router over the given remote registry.
func NewRouter(reg *registry.Registry) *Router {
	return &Router{
		Registry:   reg,
		httpClient: &http.Client{},
	}
}

// OwningRemote returns the remote that owns sessionID, or (nil, false) if
// it is not in the registry map — in which case the caller treats the
// request as local (routing rule 2).
func (rt *Router) OwningRemote(sessionID string) (*registry.Remote, bool) {
	return rt.Registry.GetRemoteBySessionID(sessionID)
}

// forward issues an HTTP request to a remote with the remote's bearer
// token and a per-call timeout (routing rule 1), returning the raw
// response for the caller to relay or decode.
func (rt *Router) forward(ctx context.Context, remote *registry.Remote, timeout time.Duration, method, path string, body io.Reader) (*http.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, remote.URL+path, body)
	if err != nil {
		return nil, apierr.RemoteUnreachable("build forward request", err)
	}
	req.Header.Set("Authorization", "Bearer "+remote.Token)
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := rt.httpClient.Do(req)
	if err != nil {
		return nil, apierr.RemoteUnreachable(fmt.Sprintf("call remote %s", remote.Name), err)
	}
	return resp, nil
}
