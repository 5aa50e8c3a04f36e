// Package vterm maintains a headless, scrollback-aware terminal emulator
// per session: ANSI rendering via charmbracelet/x/vt + ultraviolet, and
// plain-text projection and structured cell-grid snapshots via a companion
// CSI/SGR tracker (wire.go, grid.go) for the binary wire format
// charmbracelet/x/vt has no public accessor for.
package vterm

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

const defaultMaxScrollbackLines = 2000

// VTerm wraps vt.Emulator with scrollback capture and a parallel cell-grid
// tracker. All methods are thread-safe.
type VTerm struct {
	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int

	grid *Grid

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	bellRang     bool
	cols, rows   int
}

// New creates a VTerm with the given dimensions and scrollback capacity.
// maxScrollback<=0 uses the spec default of 2000 rows.
func New(cols, rows, maxScrollback int) *VTerm {
	if maxScrollback <= 0 {
		maxScrollback = defaultMaxScrollbackLines
	}
	v := &VTerm{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, maxScrollback),
		grid:       NewGrid(cols, rows, maxScrollback),
		cols:       cols,
		rows:       rows,
	}
	v.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if v.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if v.sbLen == len(v.scrollback) {
					v.scrollback[v.sbHead] = ""
				}
				v.scrollback[v.sbHead] = rendered
				v.sbHead = (v.sbHead + 1) % len(v.scrollback)
				if v.sbLen < len(v.scrollback) {
					v.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range v.scrollback {
				v.scrollback[i] = ""
			}
			v.sbLen = 0
			v.sbHead = 0
		},
		AltScreen: func(on bool) {
			v.altScreen = on
			v.grid.SetAltScreen(on)
		},
		CursorVisibility: func(visible bool) {
			v.cursorHidden = !visible
		},
	})
	return v
}

// Write feeds PTY output to both the ANSI emulator and the cell-grid tracker.
func (v *VTerm) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.grid.Write(p)
	if bellCount(p) > 0 {
		v.bellRang = true
	}
	return v.emu.Write(p)
}

func bellCount(p []byte) int {
	n := 0
	for _, b := range p {
		if b == 0x07 {
			n++
		}
	}
	return n
}

// Resize changes the terminal dimensions. Per the scrollback rewrap policy,
// only the active viewport reflows — scrollback lines already pushed out
// keep the column width they were captured at.
func (v *VTerm) Resize(cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emu.Resize(cols, rows)
	v.grid.Resize(cols, rows)
	v.cols = cols
	v.rows = rows
}

// Render generates a reconnect payload: scrollback + grid + cursor restore,
// valid ANSI any terminal emulator can consume directly.
func (v *VTerm) Render() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf strings.Builder
	lines := v.scrollbackLines()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range v.rows - 1 {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(v.emu.Render())
	pos := v.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)
	if v.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
	return []byte(buf.String())
}

// PlainText returns the current viewport as UTF-8 lines, optionally
// wrapped with ANSI SGR codes. Trailing spaces in each row are trimmed.
func (v *VTerm) PlainText(withStyles bool) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.grid.PlainText(withStyles)
}

// GridSnapshot materializes the current cell grid for the binary wire
// format (§4.3).
func (v *VTerm) GridSnapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.grid.Snapshot(v.bellRang)
}

// ScrollbackLen returns the number of scrollback lines currently stored.
func (v *VTerm) ScrollbackLen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sbLen
}

// Close releases the emulator's resources.
func (v *VTerm) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Close()
}

func (v *VTerm) scrollbackLines() []string {
	if v.sbLen == 0 {
		return nil
	}
	lines := make([]string, v.sbLen)
	start := (v.sbHead - v.sbLen + len(v.scrollback)) % len(v.scrollback)
	for i := range v.sbLen {
		lines[i] = v.scrollback[(start+i)%len(v.scrollback)]
	}
	return lines
}
