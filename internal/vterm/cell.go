package vterm

// Attribute bits for Cell.Attrs, matching the spec's SGR attribute set.
const (
	AttrBold          uint8 = 1 << 0
	AttrItalic        uint8 = 1 << 1
	AttrUnderline     uint8 = 1 << 2
	AttrStrikethrough uint8 = 1 << 3
	AttrDim           uint8 = 1 << 4
	AttrInverse       uint8 = 1 << 5
	AttrInvisible     uint8 = 1 << 6
)

// ColorKind discriminates a Color's representation.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota
	ColorPalette
	ColorRGB
)

// Color is {default | palette(0..255) | rgb(r,g,b)}.
type Color struct {
	Kind    ColorKind
	Index   uint8 // valid when Kind == ColorPalette
	R, G, B uint8 // valid when Kind == ColorRGB
}

var DefaultColor = Color{Kind: ColorDefault}

func PaletteColor(idx uint8) Color { return Color{Kind: ColorPalette, Index: idx} }

func RGBColor(r, g, b uint8) Color { return Color{Kind: ColorRGB, R: r, G: g, B: b} }

// Cell is one terminal grid cell.
type Cell struct {
	Char  rune
	Fg    Color
	Bg    Color
	Attrs uint8
}

var blankCell = Cell{Char: ' ', Fg: DefaultColor, Bg: DefaultColor}
