package api

import (
	"encoding/json"
	"net/http"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeErr maps an apierr.Error (or any error) to its HTTP status and
// writes a {"error": msg} body.
func writeErr(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// relayRemoteJSON writes a proxied JSON response through verbatim,
// defaulting to 502 if the remote returned no parseable status.
func relayRemoteJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	w.Write(body)
}
