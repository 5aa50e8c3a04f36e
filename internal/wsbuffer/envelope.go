// Package wsbuffer implements the buffer aggregator (C7): a WebSocket
// endpoint that subscribes clients to a session's binary terminal snapshot
// stream, coalescing rapid updates and suppressing byte-identical repeats
// (§4.5).
package wsbuffer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

const bufferMagic byte = 0xBF

// clientMessage is a client→server JSON text frame.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp,omitempty"`
}

// serverMessage is a server→client JSON text frame.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
	SDP       string `json:"sdp,omitempty"`
}

func marshalServerMessage(m serverMessage) []byte {
	data, _ := json.Marshal(m)
	return data
}

// encodeBufferEnvelope wraps an already-encoded snapshot (§4.3) with the
// binary frame header: magic byte, little-endian session ID length, then
// the UTF-8 session ID bytes, then the payload.
func encodeBufferEnvelope(sessionID string, payload []byte) []byte {
	idBytes := []byte(sessionID)
	var buf bytes.Buffer
	buf.WriteByte(bufferMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(len(idBytes)))
	buf.Write(idBytes)
	buf.Write(payload)
	return buf.Bytes()
}

// DecodeBufferEnvelope unwraps a buffer frame produced by
// encodeBufferEnvelope. Used by the HQ router's upstream bridge to pull
// the session id back out of frames relayed from a remote's own buffer
// aggregator (§4.7 routing rule 6).
func DecodeBufferEnvelope(frame []byte) (sessionID string, payload []byte, ok bool) {
	if len(frame) < 5 || frame[0] != bufferMagic {
		return "", nil, false
	}
	idLen := binary.LittleEndian.Uint32(frame[1:5])
	if uint32(len(frame)) < 5+idLen {
		return "", nil, false
	}
	sessionID = string(frame[5 : 5+idLen])
	payload = frame[5+idLen:]
	return sessionID, payload, true
}
