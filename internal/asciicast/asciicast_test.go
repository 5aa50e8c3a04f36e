package asciicast

import (
	"io"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")

	w, err := Create(path, Header{Version: 2, Width: 80, Height: 24, Timestamp: 1700000000, Command: "/bin/sh"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	events := []Event{
		NewOutput(0.1, "hello\r\n"),
		NewInput(0.2, "hi\n"),
		NewResize(0.3, 132, 40),
		NewExit(0.4, 0),
	}
	for _, ev := range events {
		if err := w.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	header, got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if header.Width != 80 || header.Height != 24 || header.Command != "/bin/sh" {
		t.Fatalf("header mismatch: %+v", header)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i, ev := range events {
		if got[i].Kind != ev.Kind || got[i].Data != ev.Data {
			t.Errorf("event %d mismatch: got %+v want %+v", i, got[i], ev)
		}
	}

	cols, rows, err := ParseResize(got[2].Data)
	if err != nil || cols != 132 || rows != 40 {
		t.Errorf("ParseResize: got (%d,%d,%v)", cols, rows, err)
	}
	code, err := ParseExitCode(got[3].Data)
	if err != nil || code != 0 {
		t.Errorf("ParseExitCode: got (%d,%v)", code, err)
	}
}

func TestReaderResumesAfterEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")

	w, err := Create(path, Header{Version: 2, Width: 80, Height: 24, Timestamp: 1700000000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Append(NewOutput(0.1, "first\n")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Data != "first\n" {
		t.Fatalf("unexpected event data: %q", ev.Data)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of log, got %v", err)
	}

	if err := w.Append(NewExit(0.2, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ev, err = r.Next()
	if err != nil {
		t.Fatalf("Next after append: %v", err)
	}
	if ev.Kind != KindExit {
		t.Fatalf("expected exit event, got %+v", ev)
	}
}
