package vterm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	magic   uint16 = 0x5654 // "VT"
	version uint8  = 0x01

	flagBellRang uint8 = 1 << 0

	rowEmptyRun byte = 0xFE
	rowFull     byte = 0xFF
)

// Snapshot is the terminal state engine's output for one session at an
// instant (§3.1 "Terminal snapshot").
type Snapshot struct {
	Cols, Rows    int
	ViewportY     int32
	CursorX       int32
	CursorY       int32
	CursorVisible bool
	BellRang      bool
	Cells         [][]Cell
}

// Encode serializes a Snapshot to the little-endian binary wire format
// (§4.3).
func Encode(s Snapshot) []byte {
	var buf bytes.Buffer

	var flags uint8
	if s.BellRang {
		flags |= flagBellRang
	}

	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, binary.LittleEndian, version)
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, uint32(s.Cols))
	binary.Write(&buf, binary.LittleEndian, uint32(s.Rows))
	binary.Write(&buf, binary.LittleEndian, s.ViewportY)
	binary.Write(&buf, binary.LittleEndian, s.CursorX)
	binary.Write(&buf, binary.LittleEndian, s.CursorY)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved

	encodeRows(&buf, s.Cells)
	return buf.Bytes()
}

func encodeRows(buf *bytes.Buffer, rows [][]Cell) {
	i := 0
	for i < len(rows) {
		if isEmptyRow(rows[i]) {
			run := 0
			for i < len(rows) && isEmptyRow(rows[i]) && run < 255 {
				run++
				i++
			}
			buf.WriteByte(rowEmptyRun)
			buf.WriteByte(byte(run))
			continue
		}
		buf.WriteByte(rowFull)
		encodeRow(buf, rows[i])
		i++
	}
}

func isEmptyRow(row []Cell) bool {
	for _, c := range row {
		if c != blankCell && c.Char != 0 {
			return false
		}
	}
	return true
}

func encodeRow(buf *bytes.Buffer, row []Cell) {
	i := 0
	for i < len(row) {
		j := i + 1
		for j < len(row) && row[j] == row[i] && j-i < 0xFFFF {
			j++
		}
		runLen := uint16(j - i)
		binary.Write(buf, binary.LittleEndian, runLen)
		encodeCell(buf, row[i])
		i = j
	}
}

func encodeCell(buf *bytes.Buffer, c Cell) {
	ch := c.Char
	if ch == 0 {
		ch = ' '
	}
	chBytes := []byte(string(ch))
	if len(chBytes) == 0 || len(chBytes) > 4 {
		chBytes = []byte{' '}
	}
	buf.WriteByte(byte(len(chBytes)))
	buf.Write(chBytes)
	encodeColor(buf, c.Fg)
	encodeColor(buf, c.Bg)
	buf.WriteByte(c.Attrs)
}

func encodeColor(buf *bytes.Buffer, c Color) {
	switch c.Kind {
	case ColorPalette:
		buf.WriteByte(0x01)
		buf.WriteByte(c.Index)
	case ColorRGB:
		buf.WriteByte(0x02)
		buf.WriteByte(c.R)
		buf.WriteByte(c.G)
		buf.WriteByte(c.B)
	default:
		buf.WriteByte(0x00)
	}
}

// Decode parses the binary wire format back into a Snapshot. Decode(Encode(s))
// reproduces s (P5) with two exceptions: a continuation cell (Char 0)
// decodes with Char ' ', and CursorVisible, which the format does not
// carry, always decodes as true.
func Decode(data []byte) (Snapshot, error) {
	r := bytes.NewReader(data)
	var m uint16
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return Snapshot{}, fmt.Errorf("vterm: read magic: %w", err)
	}
	if m != magic {
		return Snapshot{}, fmt.Errorf("vterm: bad magic %#x", m)
	}
	var ver uint8
	binary.Read(r, binary.LittleEndian, &ver)
	var flags uint8
	binary.Read(r, binary.LittleEndian, &flags)
	var cols, rows uint32
	binary.Read(r, binary.LittleEndian, &cols)
	binary.Read(r, binary.LittleEndian, &rows)
	var viewportY, cursorX, cursorY int32
	binary.Read(r, binary.LittleEndian, &viewportY)
	binary.Read(r, binary.LittleEndian, &cursorX)
	binary.Read(r, binary.LittleEndian, &cursorY)
	var reserved uint32
	binary.Read(r, binary.LittleEndian, &reserved)

	s := Snapshot{
		Cols:          int(cols),
		Rows:          int(rows),
		ViewportY:     viewportY,
		CursorX:       cursorX,
		CursorY:       cursorY,
		CursorVisible: true,
		BellRang:      flags&flagBellRang != 0,
	}

	s.Cells = make([][]Cell, 0, rows)
	for len(s.Cells) < int(rows) {
		disc, err := r.ReadByte()
		if err != nil {
			return Snapshot{}, fmt.Errorf("vterm: read row discriminator: %w", err)
		}
		switch disc {
		case rowEmptyRun:
			n, err := r.ReadByte()
			if err != nil {
				return Snapshot{}, fmt.Errorf("vterm: read empty run: %w", err)
			}
			for i := 0; i < int(n); i++ {
				s.Cells = append(s.Cells, newRow(int(cols)))
			}
		case rowFull:
			row, err := decodeRow(r, int(cols))
			if err != nil {
				return Snapshot{}, err
			}
			s.Cells = append(s.Cells, row)
		default:
			return Snapshot{}, fmt.Errorf("vterm: unknown row discriminator %#x", disc)
		}
	}
	return s, nil
}

func decodeRow(r *bytes.Reader, cols int) ([]Cell, error) {
	row := make([]Cell, 0, cols)
	for len(row) < cols {
		var runLen uint16
		if err := binary.Read(r, binary.LittleEndian, &runLen); err != nil {
			return nil, fmt.Errorf("vterm: read run length: %w", err)
		}
		cell, err := decodeCell(r)
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(runLen); i++ {
			row = append(row, cell)
		}
	}
	return row, nil
}

func decodeCell(r *bytes.Reader) (Cell, error) {
	n, err := r.ReadByte()
	if err != nil {
		return Cell{}, fmt.Errorf("vterm: read char len: %w", err)
	}
	chBytes := make([]byte, n)
	if _, err := r.Read(chBytes); err != nil {
		return Cell{}, fmt.Errorf("vterm: read char bytes: %w", err)
	}
	ch := decodeFirstRune(chBytes)
	fg, err := decodeColor(r)
	if err != nil {
		return Cell{}, err
	}
	bg, err := decodeColor(r)
	if err != nil {
		return Cell{}, err
	}
	attrs, err := r.ReadByte()
	if err != nil {
		return Cell{}, fmt.Errorf("vterm: read attrs: %w", err)
	}
	return Cell{Char: ch, Fg: fg, Bg: bg, Attrs: attrs}, nil
}

func decodeColor(r *bytes.Reader) (Color, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Color{}, fmt.Errorf("vterm: read color tag: %w", err)
	}
	switch tag {
	case 0x00:
		return DefaultColor, nil
	case 0x01:
		idx, err := r.ReadByte()
		if err != nil {
			return Color{}, fmt.Errorf("vterm: read palette index: %w", err)
		}
		return PaletteColor(idx), nil
	case 0x02:
		var rgb [3]byte
		if _, err := r.Read(rgb[:]); err != nil {
			return Color{}, fmt.Errorf("vterm: read rgb: %w", err)
		}
		return RGBColor(rgb[0], rgb[1], rgb[2]), nil
	default:
		return Color{}, fmt.Errorf("vterm: unknown color tag %#x", tag)
	}
}
