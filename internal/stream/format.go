package stream

import (
	"encoding/json"
	"fmt"

	"github.com/vibetunnel/vibetunneld/internal/asciicast"
)

// formatEvent renders an arbitrary named SSE event. The default (data-only)
// frame used for asciicast lines omits the "event:" field entirely, per
// §4.4: "Each log line is rewritten as one SSE message: data: <jsonEventLine>\n\n".
func formatEvent(name string, data string) []byte {
	if name == "" {
		return []byte(fmt.Sprintf("data: %s\n\n", data))
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, data))
}

// formatHeader marshals the asciicast header back to its raw JSON form and
// wraps it as the first SSE message a subscriber receives.
func formatHeader(h asciicast.Header) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return formatEvent("", string(data)), nil
}

// formatEventLine wraps one asciicast event as its SSE data line.
func formatEventLine(ev asciicast.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return formatEvent("", string(data)), nil
}

// formatHeartbeat is the §4.4 idle keep-alive comment line.
func formatHeartbeat() []byte {
	return []byte(":heartbeat\n\n")
}
