package vterm

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rows := make([][]Cell, 4)
	rows[0] = newRow(10)
	rows[1] = newRow(10)
	rows[1][0] = Cell{Char: 'h', Fg: PaletteColor(1), Bg: DefaultColor, Attrs: AttrBold}
	rows[1][1] = Cell{Char: 'i', Fg: RGBColor(10, 20, 30), Bg: DefaultColor, Attrs: 0}
	rows[2] = newRow(10)
	rows[3] = newRow(10)

	s := Snapshot{
		Cols:          10,
		Rows:          4,
		ViewportY:     0,
		CursorX:       2,
		CursorY:       1,
		CursorVisible: true,
		BellRang:      true,
		Cells:         rows,
	}

	encoded := Encode(s)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Cols != s.Cols || decoded.Rows != s.Rows {
		t.Fatalf("dimension mismatch: got %dx%d want %dx%d", decoded.Cols, decoded.Rows, s.Cols, s.Rows)
	}
	if decoded.CursorX != s.CursorX || decoded.CursorY != s.CursorY {
		t.Fatalf("cursor mismatch: got (%d,%d) want (%d,%d)", decoded.CursorX, decoded.CursorY, s.CursorX, s.CursorY)
	}
	if decoded.BellRang != s.BellRang {
		t.Fatalf("bellRang mismatch")
	}
	for r := range s.Cells {
		for c := range s.Cells[r] {
			got := decoded.Cells[r][c]
			want := s.Cells[r][c]
			if want.Char == 0 {
				want.Char = ' '
			}
			if got.Char != want.Char || got.Fg != want.Fg || got.Bg != want.Bg || got.Attrs != want.Attrs {
				t.Fatalf("cell (%d,%d) mismatch: got %+v want %+v", r, c, got, want)
			}
		}
	}
}

func TestGridBasicWrite(t *testing.T) {
	g := NewGrid(10, 3, 100)
	g.Write([]byte("hi\x1b[1mbold\x1b[0m"))
	row := g.active()[0]
	if row[0].Char != 'h' || row[1].Char != 'i' {
		t.Fatalf("unexpected row: %+v", row[:4])
	}
	if row[2].Char != 'b' || row[2].Attrs&AttrBold == 0 {
		t.Fatalf("expected bold 'b', got %+v", row[2])
	}
}

func TestGridCursorPositioning(t *testing.T) {
	g := NewGrid(10, 5, 100)
	g.Write([]byte("\x1b[3;4Hx"))
	if g.cursorRow != 2 || g.cursorCol != 4 { // consumed the 'x' at col 3 (0-based), advances to 4
		t.Fatalf("unexpected cursor: row=%d col=%d", g.cursorRow, g.cursorCol)
	}
	row := g.active()[2]
	if row[3].Char != 'x' {
		t.Fatalf("expected 'x' at row 2 col 3, got %+v", row[3])
	}
}
