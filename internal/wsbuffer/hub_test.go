package wsbuffer

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (f *fakeSource) Snapshot(id string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[id]
	return p, ok
}

func (f *fakeSource) set(id string, p []byte) {
	f.mu.Lock()
	f.data[id] = p
	f.mu.Unlock()
}

func TestEncodeBufferEnvelope(t *testing.T) {
	frame := encodeBufferEnvelope("abc", []byte{1, 2, 3})
	if frame[0] != bufferMagic {
		t.Fatalf("bad magic byte")
	}
	if !bytes.Equal(frame[1:5], []byte{3, 0, 0, 0}) {
		t.Fatalf("bad session id length: %v", frame[1:5])
	}
	if string(frame[5:8]) != "abc" {
		t.Fatalf("bad session id bytes: %q", frame[5:8])
	}
	if !bytes.Equal(frame[8:], []byte{1, 2, 3}) {
		t.Fatalf("bad payload: %v", frame[8:])
	}
}

func TestSubscribeSendsImmediateSnapshot(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{"s1": {0xAA}}}
	h := NewHub(src)
	c := newClient()

	frame, ok := h.Subscribe(c, "s1")
	if !ok {
		t.Fatalf("expected subscribe to succeed")
	}
	if frame[0] != bufferMagic {
		t.Fatalf("expected buffer envelope")
	}
	h.Deliver(c, frame)
	select {
	case got := <-c.out:
		if got[0] != bufferMagic {
			t.Fatalf("expected buffer envelope")
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot sent on subscribe")
	}
}

func TestSubscribeUnknownSessionFails(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{}}
	h := NewHub(src)
	c := newClient()
	if _, ok := h.Subscribe(c, "missing"); ok {
		t.Fatalf("expected subscribe to fail for unknown session")
	}
}

func TestNotifyUpdateSuppressesIdenticalSnapshot(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{"s1": {0x01}}}
	h := NewHub(src)
	c := newClient()
	frame, _ := h.Subscribe(c, "s1")
	h.Deliver(c, frame)
	<-c.out // drain initial snapshot

	h.NotifyUpdate("s1")
	select {
	case <-c.out:
		t.Fatalf("expected no frame for identical snapshot")
	case <-time.After(60 * time.Millisecond):
	}

	src.set("s1", []byte{0x02})
	h.NotifyUpdate("s1")
	select {
	case frame := <-c.out:
		if frame[len(frame)-1] != 0x02 {
			t.Fatalf("expected updated payload, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a frame for changed snapshot")
	}
}

func TestSendFallsBackToWSWhenNoDataChannelOpen(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{"s1": {0xAA}}}
	h := NewHub(src)
	h.SetP2P(NewP2PManager(nil))
	c := newClient()

	frame, ok := h.Subscribe(c, "s1")
	if !ok {
		t.Fatalf("expected subscribe to succeed")
	}
	h.Deliver(c, frame)
	select {
	case <-c.out:
	case <-time.After(time.Second):
		t.Fatalf("expected the WS path to still deliver when no data channel is open")
	}
}
