package hqrouter

import (
	"io"
	"net/http"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
	"github.com/vibetunnel/vibetunneld/internal/registry"
)

// ProxyStream opens an upstream SSE GET to the owning remote and copies
// its body verbatim to the downstream client (routing rule 5). The
// upstream call is tied to the downstream request's context, so a
// client disconnect (request context cancelled) aborts the upstream
// call; there is no timeout otherwise, matching the streaming-uncapped
// rule in §5.
func (rt *Router) ProxyStream(w http.ResponseWriter, r *http.Request, remote *registry.Remote, path string) error {
	resp, err := rt.forward(r.Context(), remote, 0, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return apierr.UpstreamStatus(resp.StatusCode, string(raw))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return nil // downstream disconnected
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return nil // upstream closed or context cancelled; nothing more to relay
		}
		select {
		case <-r.Context().Done():
			return nil
		default:
		}
	}
}

// ProxyBuffer forwards GET .../buffer to the owning remote and relays
// the octet-stream body and status code verbatim, under the buffer
// timeout.
func (rt *Router) ProxyBuffer(w http.ResponseWriter, r *http.Request, remote *registry.Remote, path string) error {
	return rt.proxyRaw(w, r, remote, path, "application/octet-stream")
}

// ProxyText forwards GET .../text to the owning remote and relays the
// plain-text body and status code verbatim, under the buffer timeout.
func (rt *Router) ProxyText(w http.ResponseWriter, r *http.Request, remote *registry.Remote, path string) error {
	return rt.proxyRaw(w, r, remote, path, "text/plain; charset=utf-8")
}

func (rt *Router) proxyRaw(w http.ResponseWriter, r *http.Request, remote *registry.Remote, path, contentType string) error {
	resp, err := rt.forward(r.Context(), remote, bufferTimeout, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return nil
}
