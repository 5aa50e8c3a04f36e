package api

import (
	"github.com/vibetunnel/vibetunneld/internal/hqrouter"
	"github.com/vibetunnel/vibetunneld/internal/session"
)

// localSnapshotSource adapts *session.Manager to wsbuffer.SnapshotSource,
// reading the encoded grid for whichever session is currently live.
type localSnapshotSource struct {
	sessions *session.Manager
}

func (l *localSnapshotSource) Snapshot(sessionID string) ([]byte, bool) {
	sess, err := l.sessions.GetSession(sessionID)
	if err != nil {
		return nil, false
	}
	return sess.Buffer(), true
}

// combinedSnapshotSource tries the local manager first, falling back to
// the HQ router's upstream buffer bridge (§4.7 routing rule 6) for
// sessions owned by a remote node. bridge is nil on a plain, non-HQ node.
type combinedSnapshotSource struct {
	local  *localSnapshotSource
	bridge *hqrouter.BufferBridge
}

func (c *combinedSnapshotSource) Snapshot(sessionID string) ([]byte, bool) {
	if payload, ok := c.local.Snapshot(sessionID); ok {
		return payload, true
	}
	if c.bridge != nil {
		return c.bridge.Snapshot(sessionID)
	}
	return nil, false
}

// NewSnapshotSource builds the wsbuffer.SnapshotSource for this node: local
// sessions always resolve through sessions directly, remote-owned sessions
// (when router is non-nil, i.e. this node is HQ) resolve through bridge.
func NewSnapshotSource(sessions *session.Manager, bridge *hqrouter.BufferBridge) *combinedSnapshotSource {
	return &combinedSnapshotSource{local: &localSnapshotSource{sessions: sessions}, bridge: bridge}
}
