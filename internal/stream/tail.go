// Package stream implements the SSE stream watcher (C6): tailing one
// session's asciicast log file and fanning its lines out to any number of
// HTTP subscribers, with a single file tail per session regardless of
// subscriber count (§4.4).
package stream

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vibetunnel/vibetunneld/internal/asciicast"
	"github.com/vibetunnel/vibetunneld/internal/logger"
)

// pollFallback is used when fsnotify can't watch a path (e.g. unsupported
// filesystem); it re-checks for growth on this interval instead.
const pollFallback = 200 * time.Millisecond

// maxSinkBuffer bounds the pending, unsent bytes (as formatted SSE messages)
// per subscriber before it is dropped as too slow (§4.4 Backpressure).
const maxSinkBuffer = 1 << 20

// sink is one subscriber's outbound channel. Write is non-blocking:
// messages accumulate up to maxSinkBuffer bytes, and an overflowing sink is
// closed with a final error event instead of blocking the tail goroutine.
type sink struct {
	id       uint64
	messages chan []byte
	buffered int
	sizes    []int // byte sizes of the messages counted in buffered, oldest first
	dropped  bool
	mu       sync.Mutex
}

func newSink(id uint64) *sink {
	return &sink{id: id, messages: make(chan []byte, 256)}
}

// send enqueues one formatted SSE message, dropping the sink on overflow.
func (s *sink) send(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return false
	}
	// Only messages still queued in the channel are pending; forget the
	// sizes of those the subscriber has already received.
	for len(s.sizes) > len(s.messages) {
		s.buffered -= s.sizes[0]
		s.sizes = s.sizes[1:]
	}
	// The last channel slot is kept free so the error event always fits.
	if s.buffered+len(msg) > maxSinkBuffer || len(s.messages) >= cap(s.messages)-1 {
		s.dropped = true
		select {
		case s.messages <- formatEvent("error", `{"error":"backpressure: client too slow"}`):
		default:
		}
		close(s.messages)
		return false
	}
	select {
	case s.messages <- msg:
		s.buffered += len(msg)
		s.sizes = append(s.sizes, len(msg))
		return true
	default:
		// Channel full; not reached while the last slot is kept free above.
		s.dropped = true
		close(s.messages)
		return false
	}
}

// Tail fans out one session's asciicast log to any number of SSE
// subscribers, reading the file exactly once regardless of subscriber
// count.
type Tail struct {
	path string

	mu       sync.Mutex
	sinks    map[uint64]*sink
	nextID   uint64
	header   []byte
	started  bool
	stopCh   chan struct{}
	finished bool
}

// NewTail creates a (not-yet-started) tail for the given asciicast log path.
func NewTail(path string) *Tail {
	return &Tail{path: path, sinks: make(map[uint64]*sink), stopCh: make(chan struct{})}
}

// Subscribe registers a new subscriber and lazily starts the underlying
// file watch goroutine on first subscriber. Returns the channel of
// already-formatted SSE message bytes and an unsubscribe func.
func (t *Tail) Subscribe() (<-chan []byte, func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	s := newSink(id)
	t.sinks[id] = s
	startNeeded := !t.started
	t.started = true
	t.mu.Unlock()

	if startNeeded {
		go t.run()
	}

	return s.messages, func() {
		t.mu.Lock()
		delete(t.sinks, id)
		t.mu.Unlock()
	}
}

func (t *Tail) broadcast(msg []byte) {
	t.mu.Lock()
	sinks := make([]*sink, 0, len(t.sinks))
	for _, s := range t.sinks {
		sinks = append(sinks, s)
	}
	t.mu.Unlock()
	for _, s := range sinks {
		if !s.send(msg) {
			t.mu.Lock()
			delete(t.sinks, s.id)
			t.mu.Unlock()
		}
	}
}

// run is the single file-tail goroutine shared by every subscriber of this
// session. It starts with the first subscriber and replays the log from
// the start, then live-tails appended lines. Only subscribers present when
// the header and backlog are broadcast receive them; a subscriber that
// joins later receives neither the header nor the earlier lines, only
// lines broadcast after it subscribed.
func (t *Tail) run() {
	log := logger.With("stream.tail")
	r, err := asciicast.Open(t.path)
	if err != nil {
		log.Warn("open asciicast log failed", "path", t.path, "err", err)
		return
	}
	defer r.Close()

	headerData, err := formatHeader(r.Header)
	if err == nil {
		t.broadcast(headerData)
	}

	watcher, werr := fsnotify.NewWatcher()
	usePolling := werr != nil
	if werr == nil {
		if err := watcher.Add(t.path); err != nil {
			usePolling = true
		}
		defer watcher.Close()
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	var poll *time.Ticker
	if usePolling {
		poll = time.NewTicker(pollFallback)
		defer poll.Stop()
	}

	for {
		for {
			ev, err := r.Next()
			if err != nil {
				break
			}
			data, merr := formatEventLine(ev)
			if merr != nil {
				continue
			}
			t.broadcast(data)
			if ev.Kind == asciicast.KindExit {
				t.closeAll()
				return
			}
		}

		if usePolling {
			select {
			case <-poll.C:
			case <-heartbeat.C:
				t.broadcast(formatHeartbeat())
			case <-t.stopCh:
				return
			}
			continue
		}

		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
		case <-heartbeat.C:
			t.broadcast(formatHeartbeat())
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tail) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sinks {
		s.mu.Lock()
		if !s.dropped {
			s.dropped = true
			close(s.messages)
		}
		s.mu.Unlock()
		delete(t.sinks, id)
	}
}

// Stop ends the tail goroutine and closes every subscriber's channel.
func (t *Tail) Stop() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()
	close(t.stopCh)
	t.closeAll()
}
