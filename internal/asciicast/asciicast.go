// Package asciicast implements the asciicast v2 line-delimited JSON log
// format: a header line followed by timed events, one per line.
package asciicast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Header is the first line of an asciicast log.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
	Command   string            `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
}

// Kind is the event discriminator byte carried in the wire array's second slot.
type Kind string

const (
	KindOutput Kind = "o"
	KindInput  Kind = "i"
	KindResize Kind = "r"
	KindExit   Kind = "x"
)

// Event is the sum type for one asciicast line: Output, Input, Resize, or Exit.
// Kind selects the variant; Data holds its payload as a string.
type Event struct {
	Elapsed float64
	Kind    Kind
	Data    string // raw payload string — "o"/"i" bytes, "colsxrows", or exit code
}

// NewOutput builds an output event at the given elapsed offset.
func NewOutput(elapsed float64, data string) Event {
	return Event{Elapsed: elapsed, Kind: KindOutput, Data: data}
}

// NewInput builds an input event at the given elapsed offset.
func NewInput(elapsed float64, data string) Event {
	return Event{Elapsed: elapsed, Kind: KindInput, Data: data}
}

// NewResize builds a resize event; Data is formatted "colsxrows".
func NewResize(elapsed float64, cols, rows int) Event {
	return Event{Elapsed: elapsed, Kind: KindResize, Data: fmt.Sprintf("%dx%d", cols, rows)}
}

// NewExit builds an exit marker event; Data is the exit code as a string.
func NewExit(elapsed float64, exitCode int) Event {
	return Event{Elapsed: elapsed, Kind: KindExit, Data: fmt.Sprintf("%d", exitCode)}
}

// MarshalJSON encodes the event as the three-element array form
// [elapsedSeconds, kind, data], per the asciicast v2 wire format.
func (e Event) MarshalJSON() ([]byte, error) {
	arr := [3]any{e.Elapsed, string(e.Kind), e.Data}
	return json.Marshal(arr)
}

// UnmarshalJSON decodes a three-element array into an Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr [3]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("asciicast: decode event array: %w", err)
	}
	var elapsed float64
	if err := json.Unmarshal(arr[0], &elapsed); err != nil {
		return fmt.Errorf("asciicast: decode elapsed: %w", err)
	}
	var kind string
	if err := json.Unmarshal(arr[1], &kind); err != nil {
		return fmt.Errorf("asciicast: decode kind: %w", err)
	}
	var payload string
	if err := json.Unmarshal(arr[2], &payload); err != nil {
		return fmt.Errorf("asciicast: decode data: %w", err)
	}
	e.Elapsed = elapsed
	e.Kind = Kind(kind)
	e.Data = payload
	return nil
}

// ParseResize parses a resize event's "colsxrows" payload.
func ParseResize(data string) (cols, rows int, err error) {
	_, err = fmt.Sscanf(data, "%dx%d", &cols, &rows)
	if err != nil {
		return 0, 0, fmt.Errorf("asciicast: invalid resize payload %q: %w", data, err)
	}
	return cols, rows, nil
}

// ParseExitCode parses an exit event's numeric payload.
func ParseExitCode(data string) (int, error) {
	var code int
	if _, err := fmt.Sscanf(data, "%d", &code); err != nil {
		return 0, fmt.Errorf("asciicast: invalid exit payload %q: %w", data, err)
	}
	return code, nil
}

// Elapsed computes the elapsed-seconds value for a moment t relative to a
// session's start time, as stored in the header's Timestamp.
func Elapsed(start time.Time, t time.Time) float64 {
	return t.Sub(start).Seconds()
}
