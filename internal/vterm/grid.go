package vterm

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Grid is a hand-rolled cell-level terminal tracker, run in parallel with
// vt.Emulator. charmbracelet/x/vt's public surface (Write/Resize/Render/
// CursorPosition/SetCallbacks/Close — see every usage in the corpus) has no
// per-cell grid accessor, so the binary snapshot wire format (§4.3) is
// served from this independent CSI-scanning tracker instead, grounded
// stylistically on trackCursorPos/findSafeCut's approach to scanning a raw
// PTY byte stream for escape sequences.
type Grid struct {
	cols, rows int

	primary [][]Cell
	alt     [][]Cell
	altMode bool

	scrollback    [][]Cell
	sbHead, sbLen int
	maxScrollback int

	cursorRow, cursorCol int
	savedRow, savedCol   int
	pendingWrap          bool

	curFg, curBg Color
	curAttrs     uint8

	scrollTop, scrollBottom int // 0-based inclusive scroll region

	// parser state
	pending []byte // unconsumed bytes (partial escape seq or partial UTF-8)
}

// NewGrid creates a Grid of the given dimensions with the given scrollback
// row capacity.
func NewGrid(cols, rows, maxScrollback int) *Grid {
	g := &Grid{
		cols:          cols,
		rows:          rows,
		maxScrollback: maxScrollback,
		curFg:         DefaultColor,
		curBg:         DefaultColor,
	}
	g.primary = newCells(cols, rows)
	g.alt = newCells(cols, rows)
	g.scrollback = make([][]Cell, maxScrollback)
	g.scrollBottom = rows - 1
	return g
}

func newCells(cols, rows int) [][]Cell {
	cells := make([][]Cell, rows)
	for i := range cells {
		cells[i] = newRow(cols)
	}
	return cells
}

func newRow(cols int) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = blankCell
	}
	return row
}

func (g *Grid) active() [][]Cell {
	if g.altMode {
		return g.alt
	}
	return g.primary
}

// SetAltScreen switches between primary and alternate screen buffers.
func (g *Grid) SetAltScreen(on bool) {
	if on == g.altMode {
		return
	}
	g.altMode = on
	g.cursorRow, g.cursorCol = 0, 0
}

// Write feeds raw PTY bytes into the grid tracker.
func (g *Grid) Write(p []byte) {
	buf := append(g.pending, p...)
	g.pending = nil

	for len(buf) > 0 {
		b := buf[0]
		switch {
		case b == 0x1b:
			consumed, ok := g.handleEscape(buf)
			if !ok {
				g.pending = buf // incomplete escape sequence — wait for more bytes
				return
			}
			buf = buf[consumed:]
		case b == '\r':
			g.cursorCol = 0
			g.pendingWrap = false
			buf = buf[1:]
		case b == '\n':
			g.lineFeed()
			buf = buf[1:]
		case b == '\t':
			g.cursorCol = nextTabStop(g.cursorCol, g.cols)
			buf = buf[1:]
		case b == '\b':
			if g.cursorCol > 0 {
				g.cursorCol--
			}
			buf = buf[1:]
		case b == 0x07: // BEL — bell tracked by caller (VTerm.bellRang)
			buf = buf[1:]
		case b < 0x20:
			buf = buf[1:] // ignore other C0 controls
		default:
			cluster, rest, width, _ := uniseg.FirstGraphemeCluster(buf, -1)
			if len(rest) == len(buf) && len(cluster) == 0 {
				g.pending = buf
				return
			}
			if !utf8Complete(buf) {
				g.pending = buf
				return
			}
			g.putGrapheme(cluster, width)
			buf = rest
		}
	}
}

// utf8Complete reports whether b begins with a whole UTF-8 encoding (or an
// invalid byte that can never become one). A chunk boundary can split a
// rune; uniseg would otherwise take its leading bytes as a cluster of their
// own.
func utf8Complete(b []byte) bool {
	return utf8.FullRune(b)
}

func (g *Grid) putGrapheme(cluster []byte, width int) {
	r := decodeFirstRune(cluster)
	if width <= 0 {
		width = 1
	}
	if g.pendingWrap {
		g.lineFeed()
		g.cursorCol = 0
		g.pendingWrap = false
	}
	if g.cursorCol+width > g.cols {
		g.lineFeed()
		g.cursorCol = 0
	}
	row := g.active()[g.cursorRow]
	cell := Cell{Char: r, Fg: g.curFg, Bg: g.curBg, Attrs: g.curAttrs}
	if g.cursorCol < len(row) {
		row[g.cursorCol] = cell
	}
	if width == 2 && g.cursorCol+1 < len(row) {
		row[g.cursorCol+1] = Cell{Char: 0, Fg: g.curFg, Bg: g.curBg, Attrs: g.curAttrs}
	}
	g.cursorCol += width
	if g.cursorCol >= g.cols {
		g.cursorCol = g.cols - 1
		g.pendingWrap = true
	}
}

func decodeFirstRune(b []byte) rune {
	for _, r := range string(b) {
		return r
	}
	return ' '
}

func nextTabStop(col, cols int) int {
	next := (col/8 + 1) * 8
	if next >= cols {
		return cols - 1
	}
	return next
}

// lineFeed advances the cursor one row, scrolling the active region (within
// scrollTop/scrollBottom) when at the bottom. Lines scrolled off the top of
// the primary screen are pushed to scrollback (never the alt screen).
func (g *Grid) lineFeed() {
	if g.cursorRow < g.scrollBottom {
		g.cursorRow++
		return
	}
	cells := g.active()
	if !g.altMode {
		g.pushScrollback(cells[g.scrollTop])
	}
	copy(cells[g.scrollTop:g.scrollBottom], cells[g.scrollTop+1:g.scrollBottom+1])
	cells[g.scrollBottom] = newRow(g.cols)
}

func (g *Grid) pushScrollback(row []Cell) {
	if g.maxScrollback == 0 {
		return
	}
	cp := make([]Cell, len(row))
	copy(cp, row)
	g.scrollback[g.sbHead] = cp
	g.sbHead = (g.sbHead + 1) % g.maxScrollback
	if g.sbLen < g.maxScrollback {
		g.sbLen++
	}
}

// Resize reflows only the active viewport; scrollback rows keep the width
// they were captured at (Open Question #3, resolved — see DESIGN.md).
func (g *Grid) Resize(cols, rows int) {
	newPrimary := resizeCells(g.primary, cols, rows)
	newAlt := resizeCells(g.alt, cols, rows)
	g.primary = newPrimary
	g.alt = newAlt
	g.cols = cols
	g.rows = rows
	if g.cursorRow >= rows {
		g.cursorRow = rows - 1
	}
	if g.cursorCol >= cols {
		g.cursorCol = cols - 1
	}
	if g.scrollBottom >= rows || g.scrollBottom == 0 {
		g.scrollBottom = rows - 1
	}
}

func resizeCells(cells [][]Cell, cols, rows int) [][]Cell {
	out := newCells(cols, rows)
	for r := 0; r < len(cells) && r < rows; r++ {
		for c := 0; c < len(cells[r]) && c < cols; c++ {
			out[r][c] = cells[r][c]
		}
	}
	return out
}

// handleEscape parses one escape sequence starting at buf[0]=='\x1b'.
// Returns the number of bytes consumed and whether the sequence was
// complete (false means caller should wait for more bytes).
func (g *Grid) handleEscape(buf []byte) (int, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	switch buf[1] {
	case '[':
		return g.handleCSI(buf)
	case ']':
		return g.handleOSC(buf)
	case '7':
		g.savedRow, g.savedCol = g.cursorRow, g.cursorCol
		return 2, true
	case '8':
		g.cursorRow, g.cursorCol = g.savedRow, g.savedCol
		return 2, true
	case 'M': // reverse line feed
		if g.cursorRow > g.scrollTop {
			g.cursorRow--
		}
		return 2, true
	default:
		return 2, true
	}
}

// handleOSC skips an Operating System Command sequence, terminated by BEL
// or ST (\x1b\\).
func (g *Grid) handleOSC(buf []byte) (int, bool) {
	for i := 2; i < len(buf); i++ {
		if buf[i] == 0x07 {
			return i + 1, true
		}
		if buf[i] == '\x1b' && i+1 < len(buf) && buf[i+1] == '\\' {
			return i + 2, true
		}
	}
	return 0, false
}

// handleCSI parses a Control Sequence Introducer: ESC [ params... final.
func (g *Grid) handleCSI(buf []byte) (int, bool) {
	i := 2
	private := false
	if i < len(buf) && buf[i] == '?' {
		private = true
		i++
	}
	start := i
	for i < len(buf) && ((buf[i] >= '0' && buf[i] <= '9') || buf[i] == ';') {
		i++
	}
	if i >= len(buf) {
		return 0, false
	}
	final := buf[i]
	params := parseParams(string(buf[start:i]))
	g.applyCSI(private, params, final)
	return i + 1, true
}

func parseParams(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			out = append(out, 0)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}

func param(params []int, idx, def int) int {
	if idx >= len(params) || params[idx] == 0 {
		return def
	}
	return params[idx]
}

func (g *Grid) applyCSI(private bool, params []int, final byte) {
	if private {
		g.applyPrivateMode(params, final)
		return
	}
	switch final {
	case 'H', 'f':
		row := param(params, 0, 1) - 1
		col := param(params, 1, 1) - 1
		g.cursorRow = clamp(row, 0, g.rows-1)
		g.cursorCol = clamp(col, 0, g.cols-1)
		g.pendingWrap = false
	case 'A':
		g.cursorRow = clamp(g.cursorRow-param(params, 0, 1), 0, g.rows-1)
	case 'B':
		g.cursorRow = clamp(g.cursorRow+param(params, 0, 1), 0, g.rows-1)
	case 'C':
		g.cursorCol = clamp(g.cursorCol+param(params, 0, 1), 0, g.cols-1)
	case 'D':
		g.cursorCol = clamp(g.cursorCol-param(params, 0, 1), 0, g.cols-1)
	case 'G':
		g.cursorCol = clamp(param(params, 0, 1)-1, 0, g.cols-1)
	case 'd':
		g.cursorRow = clamp(param(params, 0, 1)-1, 0, g.rows-1)
	case 'J':
		g.eraseDisplay(param(params, 0, 0))
	case 'K':
		g.eraseLine(param(params, 0, 0))
	case 'r':
		top := param(params, 0, 1) - 1
		bottom := param(params, 1, g.rows) - 1
		if top < 0 {
			top = 0
		}
		if bottom >= g.rows {
			bottom = g.rows - 1
		}
		if top < bottom {
			g.scrollTop, g.scrollBottom = top, bottom
		}
	case 'm':
		g.applySGR(params)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (g *Grid) applyPrivateMode(params []int, final byte) {
	if len(params) == 0 {
		return
	}
	set := final == 'h'
	switch params[0] {
	case 1049, 47, 1047:
		g.SetAltScreen(set)
	}
}

func (g *Grid) eraseDisplay(mode int) {
	cells := g.active()
	switch mode {
	case 0:
		g.eraseLine(0)
		for r := g.cursorRow + 1; r < g.rows; r++ {
			cells[r] = newRow(g.cols)
		}
	case 1:
		g.eraseLine(1)
		for r := 0; r < g.cursorRow; r++ {
			cells[r] = newRow(g.cols)
		}
	case 2, 3:
		for r := 0; r < g.rows; r++ {
			cells[r] = newRow(g.cols)
		}
	}
}

func (g *Grid) eraseLine(mode int) {
	row := g.active()[g.cursorRow]
	switch mode {
	case 0:
		for c := g.cursorCol; c < len(row); c++ {
			row[c] = blankCell
		}
	case 1:
		for c := 0; c <= g.cursorCol && c < len(row); c++ {
			row[c] = blankCell
		}
	case 2:
		for c := range row {
			row[c] = blankCell
		}
	}
}

func (g *Grid) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			g.curFg, g.curBg, g.curAttrs = DefaultColor, DefaultColor, 0
		case p == 1:
			g.curAttrs |= AttrBold
		case p == 2:
			g.curAttrs |= AttrDim
		case p == 3:
			g.curAttrs |= AttrItalic
		case p == 4:
			g.curAttrs |= AttrUnderline
		case p == 7:
			g.curAttrs |= AttrInverse
		case p == 8:
			g.curAttrs |= AttrInvisible
		case p == 9:
			g.curAttrs |= AttrStrikethrough
		case p == 22:
			g.curAttrs &^= AttrBold | AttrDim
		case p == 23:
			g.curAttrs &^= AttrItalic
		case p == 24:
			g.curAttrs &^= AttrUnderline
		case p == 27:
			g.curAttrs &^= AttrInverse
		case p == 28:
			g.curAttrs &^= AttrInvisible
		case p == 29:
			g.curAttrs &^= AttrStrikethrough
		case p >= 30 && p <= 37:
			g.curFg = PaletteColor(uint8(p - 30))
		case p == 38:
			consumed, c := g.parseExtendedColor(params[i+1:])
			g.curFg = c
			i += consumed
		case p == 39:
			g.curFg = DefaultColor
		case p >= 40 && p <= 47:
			g.curBg = PaletteColor(uint8(p - 40))
		case p == 48:
			consumed, c := g.parseExtendedColor(params[i+1:])
			g.curBg = c
			i += consumed
		case p == 49:
			g.curBg = DefaultColor
		case p >= 90 && p <= 97:
			g.curFg = PaletteColor(uint8(p-90) + 8)
		case p >= 100 && p <= 107:
			g.curBg = PaletteColor(uint8(p-100) + 8)
		}
	}
}

// parseExtendedColor parses the tail of a 38/48 SGR parameter
// (5;idx for palette, 2;r;g;b for truecolor) and returns how many
// additional params were consumed.
func (g *Grid) parseExtendedColor(rest []int) (int, Color) {
	if len(rest) == 0 {
		return 0, DefaultColor
	}
	switch rest[0] {
	case 5:
		if len(rest) >= 2 {
			return 2, PaletteColor(uint8(rest[1]))
		}
		return 1, DefaultColor
	case 2:
		if len(rest) >= 4 {
			return 4, RGBColor(uint8(rest[1]), uint8(rest[2]), uint8(rest[3]))
		}
		return len(rest), DefaultColor
	}
	return 1, DefaultColor
}

// PlainText renders the current viewport as text, trimming trailing spaces
// per row, optionally wrapped in ANSI SGR codes.
func (g *Grid) PlainText(withStyles bool) string {
	cells := g.active()
	var b strings.Builder
	for r, row := range cells {
		lastNonBlank := -1
		for c, cell := range row {
			if cell.Char != 0 && cell.Char != ' ' {
				lastNonBlank = c
			}
		}
		var lineFg, lineBg Color
		var lineAttrs uint8
		for c := 0; c <= lastNonBlank; c++ {
			cell := row[c]
			if cell.Char == 0 {
				continue
			}
			if withStyles && (cell.Fg != lineFg || cell.Bg != lineBg || cell.Attrs != lineAttrs) {
				b.WriteString(sgrEscape(cell))
				lineFg, lineBg, lineAttrs = cell.Fg, cell.Bg, cell.Attrs
			}
			b.WriteRune(cell.Char)
		}
		if withStyles && lastNonBlank >= 0 {
			b.WriteString("\x1b[0m")
		}
		if r < len(cells)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func sgrEscape(c Cell) string {
	var codes []string
	if c.Attrs&AttrBold != 0 {
		codes = append(codes, "1")
	}
	if c.Attrs&AttrDim != 0 {
		codes = append(codes, "2")
	}
	if c.Attrs&AttrItalic != 0 {
		codes = append(codes, "3")
	}
	if c.Attrs&AttrUnderline != 0 {
		codes = append(codes, "4")
	}
	if c.Attrs&AttrInverse != 0 {
		codes = append(codes, "7")
	}
	if c.Attrs&AttrStrikethrough != 0 {
		codes = append(codes, "9")
	}
	codes = append(codes, colorSGR(c.Fg, true), colorSGR(c.Bg, false))
	return "\x1b[0;" + strings.Join(codes, ";") + "m"
}

func colorSGR(c Color, fg bool) string {
	base := 30
	if !fg {
		base = 40
	}
	switch c.Kind {
	case ColorPalette:
		if c.Index < 8 {
			return strconv.Itoa(base + int(c.Index))
		}
		return strconv.Itoa(base+8) + ";5;" + strconv.Itoa(int(c.Index))
	case ColorRGB:
		return strconv.Itoa(base+8) + ";2;" + strconv.Itoa(int(c.R)) + ";" + strconv.Itoa(int(c.G)) + ";" + strconv.Itoa(int(c.B))
	default:
		return strconv.Itoa(base + 9)
	}
}

// Snapshot materializes the current grid state for the binary wire format.
func (g *Grid) Snapshot(bellRang bool) Snapshot {
	cells := g.active()
	rows := make([][]Cell, len(cells))
	for i, row := range cells {
		cp := make([]Cell, len(row))
		copy(cp, row)
		rows[i] = cp
	}
	return Snapshot{
		Cols:          g.cols,
		Rows:          g.rows,
		ViewportY:     0,
		CursorX:       int32(g.cursorCol),
		CursorY:       int32(g.cursorRow),
		CursorVisible: true,
		BellRang:      bellRang,
		Cells:         rows,
	}
}
