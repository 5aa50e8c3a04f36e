package stream

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/asciicast"
)

func TestTailFanOutSinglePass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")

	w, err := asciicast.Create(path, asciicast.Header{Version: 2, Width: 80, Height: 24, Timestamp: 1000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Append(asciicast.NewOutput(0.1, "hello"))

	tail := NewTail(path)
	defer tail.Stop()

	msgsA, unsubA := tail.Subscribe()
	defer unsubA()
	msgsB, unsubB := tail.Subscribe()
	defer unsubB()

	waitFor(t, msgsA) // header
	waitFor(t, msgsA) // output event
	waitFor(t, msgsB)
	waitFor(t, msgsB)

	w.Append(asciicast.NewExit(0.2, 0))
	waitFor(t, msgsA)
	waitFor(t, msgsB)

	w.Close()
}

func waitFor(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestFormatHeartbeat(t *testing.T) {
	if string(formatHeartbeat()) != ":heartbeat\n\n" {
		t.Fatalf("unexpected heartbeat frame: %q", formatHeartbeat())
	}
}
