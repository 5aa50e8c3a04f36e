package session

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
	"github.com/vibetunnel/vibetunneld/internal/asciicast"
	"github.com/vibetunnel/vibetunneld/internal/logger"
	"github.com/vibetunnel/vibetunneld/internal/vterm"
)

// watchdogGrace is how long a session may stay in StatusStarting before the
// manager logs a warning (spawn stuck, e.g. a missing binary hanging in
// exec.LookPath or a slow shell rc file).
const watchdogGrace = 500 * time.Millisecond

// Manager owns the set of live sessions and every C2 operation on them
// (§4.1): create, list, get, sendInput, resize, kill, cleanup.
type Manager struct {
	root string

	mu       sync.RWMutex
	sessions map[string]*Session

	// onOutput, when set, is called after every PTY read with the
	// session id so an external subscriber (the buffer WebSocket hub)
	// can push a fresh snapshot. Set via SetOutputNotifier; left nil it
	// is simply skipped, so Manager has no dependency on its caller.
	onOutput func(sessionID string)
}

// NewManager creates a Manager rooted at the given session-store directory.
func NewManager(root string) *Manager {
	return &Manager{root: root, sessions: make(map[string]*Session)}
}

// SetOutputNotifier registers a callback invoked with a session's id
// whenever new PTY output is read for it. Used to bridge local session
// activity into the wsbuffer hub without session importing wsbuffer.
func (m *Manager) SetOutputNotifier(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOutput = fn
}

// CreateSession spawns a new PTY-backed child process (§4.1).
func (m *Manager) CreateSession(rc RunConfig) (*Session, error) {
	if len(rc.Argv) == 0 {
		return nil, apierr.InvalidArgument("argv must not be empty")
	}
	cols, rows := rc.Cols, rc.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	id := uuid.NewString()
	root := rc.Root
	if root == "" {
		root = m.root
	}
	paths := pathsFor(root, id)
	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return nil, apierr.IOFailed("create session directory", err)
	}

	binPath, err := exec.LookPath(rc.Argv[0])
	if err != nil {
		return nil, apierr.SpawnFailed(fmt.Sprintf("executable not found: %s", rc.Argv[0]), err)
	}

	envMap := make(map[string]string, len(rc.Env)+3)
	for k, v := range rc.Env {
		envMap[k] = v
	}
	for _, k := range []string{"HOME", "PATH", "LANG"} {
		if _, ok := envMap[k]; !ok {
			if v := os.Getenv(k); v != "" {
				envMap[k] = v
			}
		}
	}
	term := rc.Term
	if term == "" {
		term = "xterm-256color"
	}
	envMap["TERM"] = term

	var envSlice []string
	for k, v := range envMap {
		envSlice = append(envSlice, k+"="+v)
	}

	cmd := exec.Command(binPath, rc.Argv[1:]...)
	cmd.Env = envSlice
	if rc.CWD != "" {
		cmd.Dir = rc.CWD
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, apierr.SpawnFailed("start pty", err)
	}

	now := time.Now()
	sess := &Session{
		ID:           id,
		Name:         rc.Name,
		Cmdline:      rc.Argv,
		CWD:          rc.CWD,
		StartedAt:    now,
		LastModified: now,
		pid:          cmd.Process.Pid,
		status:       StatusStarting,
		cols:         cols,
		rows:         rows,
		ptmx:         ptmx,
		cmd:          cmd,
		vt:           vterm.New(cols, rows, rc.MaxScrollbackRows),
		replay:       newReplayBuffer(rc.MaxReplayBytes),
		done:         make(chan struct{}),
	}

	writer, err := asciicast.Create(filepath.Join(paths.Dir, "stdout"), asciicast.Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: now.Unix(),
		Command:   rc.Argv[0],
		Env:       envMap,
	})
	if err != nil {
		ptmx.Close()
		cmd.Process.Kill()
		return nil, apierr.IOFailed("create asciicast log", err)
	}

	control, err := newControlListener(paths.ControlSocketPath, id, m)
	if err != nil {
		writer.Close()
		ptmx.Close()
		cmd.Process.Kill()
		return nil, apierr.IOFailed("open control socket", err)
	}
	sess.control = control

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := m.writeSessionJSON(paths, sess); err != nil {
		logger.Warn("failed to write session.json", "session", id, "err", err)
	}

	go m.watchStartup(sess)
	go m.readLoop(sess, writer, paths)
	go m.waitLoop(sess, paths)

	return sess, nil
}

// watchStartup enforces the other half of the starting->running transition
// (§4.1: "Status is starting until first readable byte or 500ms elapses"):
// readLoop flips it on first output, this flips it once the grace period
// runs out without any, logging since that usually means a stuck spawn.
func (m *Manager) watchStartup(sess *Session) {
	t := time.NewTimer(watchdogGrace)
	defer t.Stop()
	select {
	case <-t.C:
		if sess.Status() == StatusStarting {
			logger.Warn("session slow to start", "session", sess.ID, "grace", watchdogGrace)
			sess.setStatus(StatusRunning)
		}
	case <-sess.done:
	}
}

// readLoop copies PTY output into the asciicast log, the replay buffer, and
// the headless terminal emulator, and maintains the activity-monitor state.
// It owns the asciicast writer for the session's whole lifetime: once the
// PTY read loop ends it waits for waitLoop to record the exit code, appends
// the final "x" event, and closes the log.
func (m *Manager) readLoop(sess *Session, writer *asciicast.Writer, paths Paths) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			now := time.Now()

			sess.mu.Lock()
			if sess.status == StatusStarting {
				sess.status = StatusRunning
			}
			sess.lastOutput = now
			sess.LastModified = now
			sess.lastByte = data[len(data)-1]
			sess.hasLastByte = true
			sess.mu.Unlock()

			sess.replay.Write(data)
			sess.vt.Write(data)
			if werr := writer.Append(asciicast.NewOutput(asciicast.Elapsed(writer.StartedAt(), now), string(data))); werr != nil {
				logger.Warn("asciicast append failed", "session", sess.ID, "err", werr)
			}

			m.mu.RLock()
			notify := m.onOutput
			m.mu.RUnlock()
			if notify != nil {
				notify(sess.ID)
			}
		}
		if err != nil {
			break
		}
	}

	<-sess.done // waitLoop has recorded the exit code by the time this closes

	sess.mu.Lock()
	exitCode := 0
	if sess.exitCode != nil {
		exitCode = *sess.exitCode
	}
	sess.mu.Unlock()

	now := time.Now()
	if werr := writer.Append(asciicast.NewExit(asciicast.Elapsed(writer.StartedAt(), now), exitCode)); werr != nil {
		logger.Warn("asciicast exit append failed", "session", sess.ID, "err", werr)
	}
	writer.Close()
}

func (m *Manager) waitLoop(sess *Session, paths Paths) {
	waitErr := sess.cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	now := time.Now()
	sess.mu.Lock()
	sess.status = StatusExited
	sess.exitCode = &exitCode
	sess.LastModified = now
	sess.mu.Unlock()

	close(sess.done)
	sess.ptmx.Close()
	if sess.control != nil {
		sess.control.Close()
	}

	if err := m.writeSessionJSON(paths, sess); err != nil {
		logger.Warn("failed to update session.json on exit", "session", sess.ID, "err", err)
	}
	logger.Info("session exited", "session", sess.ID, "exitCode", exitCode)
}

// ListSessions returns a snapshot of every known session (§4.1 listSessions).
func (m *Manager) ListSessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		s.waiting = s.isWaitingLocked()
		s.mu.Unlock()
		out = append(out, s.Snapshot())
	}
	return out
}

// GetSession returns one session by ID (§4.1 getSession).
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("session %s not found", id))
	}
	return s, nil
}

// SendInput writes raw text or a symbolic key to a session's PTY (§4.1).
func (m *Manager) SendInput(id string, text string, key string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	if s.Status() == StatusExited {
		return apierr.SessionNotRunning(fmt.Sprintf("session %s is not running", id))
	}

	var data []byte
	if key != "" {
		b, ok := KeyBytes(key)
		if !ok {
			return apierr.InvalidArgument(fmt.Sprintf("unknown key %q", key))
		}
		data = b
	} else {
		data = []byte(text)
	}

	if _, err := s.ptmx.Write(data); err != nil {
		return apierr.IOFailed("write to pty", err)
	}
	s.mu.Lock()
	if s.status == StatusStarting {
		s.status = StatusRunning
	}
	s.lastInput = time.Now()
	s.mu.Unlock()
	return nil
}

// ResizeSession changes a session's PTY dimensions (§4.1).
func (m *Manager) ResizeSession(id string, cols, rows int) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	if cols <= 0 || rows <= 0 {
		return apierr.InvalidArgument("cols and rows must be positive")
	}
	if s.Status() == StatusExited {
		return apierr.SessionNotRunning(fmt.Sprintf("session %s is not running", id))
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return apierr.IOFailed("resize pty", err)
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	s.vt.Resize(cols, rows)
	return nil
}

// ResetSessionSize resizes a session's PTY to the given dimensions, with the
// same checks as ResizeSession. A session does not record its original or
// last externally chosen size, so nothing here restores one; the HTTP
// handler passes the session's current dimensions.
func (m *Manager) ResetSessionSize(id string, cols, rows int) error {
	return m.ResizeSession(id, cols, rows)
}

// KillSession terminates a session's process (§4.1), SIGTERM first with a
// grace period before SIGKILL.
func (m *Manager) KillSession(id string, signal string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	if s.Status() == StatusExited {
		// Killing an already-exited session is a no-op success (§4.1
		// idempotence), not an error.
		return nil
	}

	sig := syscall.SIGTERM
	if signal == "SIGKILL" {
		sig = syscall.SIGKILL
	}
	if err := s.cmd.Process.Signal(sig); err != nil {
		return apierr.IOFailed("signal process", err)
	}

	if sig == syscall.SIGTERM {
		go func() {
			select {
			case <-s.done:
			case <-time.After(3 * time.Second):
				s.cmd.Process.Signal(syscall.SIGKILL)
			}
		}()
	}
	return nil
}

// CleanupSession removes a session's on-disk artifacts. The session must
// have already exited (§4.1 cleanupSession).
func (m *Manager) CleanupSession(id string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	if s.Status() == StatusRunning || s.Status() == StatusStarting {
		return apierr.SessionBusy(fmt.Sprintf("session %s is still running", id))
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	paths := pathsFor(m.root, id)
	return os.RemoveAll(paths.Dir)
}

// CleanupExitedSessions removes every exited session's artifacts in bulk
// (§4.1 cleanupExitedSessions) and returns the IDs removed.
func (m *Manager) CleanupExitedSessions() ([]string, error) {
	m.mu.RLock()
	var exited []string
	for id, s := range m.sessions {
		if s.Status() == StatusExited {
			exited = append(exited, id)
		}
	}
	m.mu.RUnlock()

	var removed []string
	for _, id := range exited {
		if err := m.CleanupSession(id); err != nil {
			continue
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// GetSessionPaths exposes a session's on-disk paths (§6.1), used by the SSE
// layer to tail its asciicast log.
func (m *Manager) GetSessionPaths(id string) (Paths, error) {
	if _, err := m.GetSession(id); err != nil {
		return Paths{}, err
	}
	return pathsFor(m.root, id), nil
}

func (m *Manager) writeSessionJSON(paths Paths, s *Session) error {
	info := s.Snapshot()
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(paths.SessionJSON, data, 0o644)
}

// handleInput implements controlHandler for the unix-socket control
// protocol (§6.2).
func (m *Manager) handleInput(sessionID string, req controlRequest) error {
	return m.SendInput(sessionID, req.Text, req.Key)
}

func (m *Manager) handleResize(sessionID string, cols, rows int) error {
	return m.ResizeSession(sessionID, cols, rows)
}

func (m *Manager) handleKill(sessionID string, signal string) error {
	return m.KillSession(sessionID, signal)
}

// isWaitingLocked recomputes the waiting heuristic; caller holds s.mu.
func (s *Session) isWaitingLocked() bool {
	recent := s.StartedAt
	if s.lastInput.After(recent) {
		recent = s.lastInput
	}
	if s.lastOutput.After(recent) {
		recent = s.lastOutput
	}
	idle := time.Since(recent)
	if idle < 2*time.Second || !s.hasLastByte {
		return false
	}
	return s.lastByte >= 0x20 && s.lastByte <= 0x7e
}
