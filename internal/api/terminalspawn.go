package api

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/logger"
)

// defaultTerminalSpawnSocket is the external host socket path (§6.3).
const defaultTerminalSpawnSocket = "/tmp/vibetunnel-terminal.sock"

const terminalSpawnTimeout = 10 * time.Second

type terminalSpawnRequest struct {
	WorkingDir string   `json:"workingDir"`
	SessionID  string   `json:"sessionId"`
	Command    []string `json:"command"`
	Terminal   string   `json:"terminal,omitempty"`
}

type terminalSpawnReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// trySpawnExternalTerminal forwards a spawn_terminal request to the
// external host socket (§6.3) and reports whether it accepted the
// session. A missing socket or any I/O failure returns ok=false so the
// caller falls back to in-process spawn.
func trySpawnExternalTerminal(socketPath, sessionID, workingDir string, command []string) bool {
	if socketPath == "" {
		socketPath = defaultTerminalSpawnSocket
	}
	conn, err := net.DialTimeout("unix", socketPath, terminalSpawnTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(terminalSpawnTimeout))

	req := terminalSpawnRequest{WorkingDir: workingDir, SessionID: sessionID, Command: command}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		logger.Warn("external terminal spawn write failed", "error", err)
		return false
	}

	var reply terminalSpawnReply
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&reply); err != nil {
		logger.Warn("external terminal spawn read failed", "error", err)
		return false
	}
	if !reply.Success {
		logger.Warn("external terminal declined spawn", "error", reply.Error)
		return false
	}
	return true
}
