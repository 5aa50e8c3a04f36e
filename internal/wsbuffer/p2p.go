package wsbuffer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vibetunnel/vibetunneld/internal/logger"
)

// P2PManager is an optional migration path: once a subscriber's
// DataChannel is open, its binary buffer frames move off the shared
// WebSocket onto a direct peer connection, the same "swap the write
// function, keep the session id framing" pattern the teacher's
// SwappableWriter/PeerManager use for PTY I/O — adapted here for buffer
// snapshot delivery rather than raw PTY bytes. Nothing in §4.5 requires
// this; it's a latency optimization layered on top of the WS path, which
// always remains the fallback.
type P2PManager struct {
	iceServers []webrtc.ICEServer

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection // subscriber id -> PC
	dcs   map[string]*webrtc.DataChannel    // subscriber id -> open channel, nil until OnOpen fires
}

// NewP2PManager creates a manager with the given ICE servers (nil for
// host-only/same-LAN candidates).
func NewP2PManager(iceServers []webrtc.ICEServer) *P2PManager {
	return &P2PManager{
		iceServers: iceServers,
		peers:      make(map[string]*webrtc.PeerConnection),
		dcs:        make(map[string]*webrtc.DataChannel),
	}
}

// HandleOffer processes a subscriber's WebRTC offer and returns the answer
// SDP. A "buffer:<sessionId>" labeled DataChannel, once open, becomes the
// delivery path for that session's coalesced snapshots to this subscriber.
func (p *P2PManager) HandleOffer(subscriberID, sdpOffer string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers})
	if err != nil {
		return "", fmt.Errorf("wsbuffer: new peer connection: %w", err)
	}

	p.mu.Lock()
	if old, ok := p.peers[subscriberID]; ok {
		old.Close()
	}
	p.peers[subscriberID] = pc
	p.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			p.mu.Lock()
			p.dcs[subscriberID] = dc
			p.mu.Unlock()
			logger.Debug("wsbuffer: p2p data channel open", "subscriber", subscriberID, "label", dc.Label())
		})
		dc.OnClose(func() {
			p.mu.Lock()
			delete(p.dcs, subscriberID)
			p.mu.Unlock()
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.mu.Lock()
			if p.peers[subscriberID] == pc {
				delete(p.peers, subscriberID)
				delete(p.dcs, subscriberID)
			}
			p.mu.Unlock()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}); err != nil {
		pc.Close()
		return "", fmt.Errorf("wsbuffer: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("wsbuffer: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("wsbuffer: set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return "", fmt.Errorf("wsbuffer: no local description after ICE gathering")
	}
	return local.SDP, nil
}

// TrySendDirect writes frame to the subscriber's DataChannel if one is open,
// returning false when the caller should fall back to the shared WS path.
func (p *P2PManager) TrySendDirect(subscriberID string, frame []byte) bool {
	p.mu.Lock()
	dc := p.dcs[subscriberID]
	p.mu.Unlock()
	if dc == nil {
		return false
	}
	return dc.Send(frame) == nil
}

// ClosePeer tears down one subscriber's peer connection, if any. Called
// when its WebSocket connection (the signaling channel) closes.
func (p *P2PManager) ClosePeer(subscriberID string) {
	p.mu.Lock()
	pc, ok := p.peers[subscriberID]
	if ok {
		delete(p.peers, subscriberID)
		delete(p.dcs, subscriberID)
	}
	p.mu.Unlock()
	if ok {
		pc.Close()
	}
}

// Close tears down every peer connection.
func (p *P2PManager) Close() {
	p.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(p.peers))
	for _, pc := range p.peers {
		peers = append(peers, pc)
	}
	p.peers = make(map[string]*webrtc.PeerConnection)
	p.dcs = make(map[string]*webrtc.DataChannel)
	p.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
