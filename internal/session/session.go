// Package session implements the PTY manager (C2) and activity monitor
// (C5): spawning child processes under a PTY, tracking lifecycle, the
// asciicast-backed output log, input/resize/kill routing over a control
// socket, and idle/waiting activity derivation.
package session

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/vibetunnel/vibetunneld/internal/vterm"
)

// Status is a Session's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// activeThreshold is the sliding window within which recent output marks
// a session "active" (§4.6), matching isWaitingLocked's idle threshold.
const activeThreshold = 2 * time.Second

// Session is a running or terminated child process attached to a PTY
// (§3.1).
type Session struct {
	ID           string
	Name         string
	Cmdline      []string
	CWD          string
	StartedAt    time.Time
	LastModified time.Time

	mu       sync.Mutex
	pid      int
	status   Status
	exitCode *int
	cols     int
	rows     int
	waiting  bool

	lastInput  time.Time
	lastOutput time.Time
	lastByte   byte
	hasLastByte bool

	ptmx    *os.File
	cmd     *exec.Cmd
	vt      *vterm.VTerm
	replay  *replayBuffer
	control *controlListener
	done    chan struct{}
}

// RunConfig holds everything needed to start a session (§4.1 createSession opts).
type RunConfig struct {
	Name    string
	Argv    []string
	CWD     string
	Env     map[string]string
	Cols    int
	Rows    int
	Term    string
	Root    string // session-store root directory
	MaxScrollbackRows int
	MaxReplayBytes    int
}

// Paths are the on-disk artifacts for one session (§6.1).
type Paths struct {
	Dir               string
	SessionJSON       string
	StdoutPath        string
	StdinPath         string
	ControlSocketPath string
	NotificationPath  string
}

func pathsFor(root, id string) Paths {
	dir := filepath.Join(root, id)
	return Paths{
		Dir:               dir,
		SessionJSON:       filepath.Join(dir, "session.json"),
		StdoutPath:        filepath.Join(dir, "stdout"),
		StdinPath:         filepath.Join(dir, "stdin"),
		ControlSocketPath: filepath.Join(dir, "control"),
		NotificationPath:  filepath.Join(dir, "notification-stream"),
	}
}

// Info is the serializable view of a Session returned by the API (§3.1).
type Info struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Cmdline      []string `json:"cmdline"`
	CWD          string   `json:"cwd"`
	PID          *int     `json:"pid"`
	Status       Status   `json:"status"`
	ExitCode     *int     `json:"exitCode"`
	StartedAt    string   `json:"startedAt"`
	LastModified string   `json:"lastModified"`
	Cols         int      `json:"cols"`
	Rows         int      `json:"rows"`
	Waiting      bool     `json:"waiting"`
}

// Snapshot returns the current serializable view of the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pid *int
	if s.pid != 0 {
		p := s.pid
		pid = &p
	}
	return Info{
		ID:           s.ID,
		Name:         s.Name,
		Cmdline:      s.Cmdline,
		CWD:          s.CWD,
		PID:          pid,
		Status:       s.status,
		ExitCode:     s.exitCode,
		StartedAt:    s.StartedAt.Format(time.RFC3339),
		LastModified: s.LastModified.Format(time.RFC3339),
		Cols:         s.cols,
		Rows:         s.rows,
		Waiting:      s.waiting,
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Dimensions() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Activity is the §4.6 activity-monitor view of one session.
type Activity struct {
	IsActive     bool   `json:"isActive"`
	IsWaiting    bool   `json:"isWaiting"`
	IdleSeconds  int    `json:"idleSeconds"`
	LastActivity string `json:"lastActivity,omitempty"`
}

// Activity reports the idle/waiting heuristic for this session (§4.6).
func (s *Session) Activity() Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	recent := s.StartedAt
	if s.lastInput.After(recent) {
		recent = s.lastInput
	}
	if s.lastOutput.After(recent) {
		recent = s.lastOutput
	}
	idle := time.Since(recent)
	s.waiting = s.isWaitingLocked()
	act := Activity{
		IsActive:    s.status == StatusRunning && idle < activeThreshold,
		IsWaiting:   s.waiting,
		IdleSeconds: int(idle.Seconds()),
	}
	if !recent.Equal(s.StartedAt) {
		act.LastActivity = recent.Format(time.RFC3339)
	}
	return act
}

// Buffer returns the current terminal grid encoded in the binary wire
// format (§4.3), for the GET .../buffer route.
func (s *Session) Buffer() []byte {
	return vterm.Encode(s.vt.GridSnapshot())
}

// Text returns the current viewport as plain UTF-8 lines, optionally
// wrapped with ANSI SGR codes, for the GET .../text route.
func (s *Session) Text(withStyles bool) string {
	return s.vt.PlainText(withStyles)
}

// idleDuration returns how long the session has been without I/O,
// grounded line-for-line on egg/idle_test.go: most-recent of
// lastInput/lastOutput, falling back to uptime if neither has fired yet.
func (s *Session) idleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	recent := s.StartedAt
	if s.lastInput.After(recent) {
		recent = s.lastInput
	}
	if s.lastOutput.After(recent) {
		recent = s.lastOutput
	}
	return time.Since(recent)
}
