package session

import "fmt"

// Keys is the closed set of symbolic key tokens accepted by sendInput's
// "key" field (Open Question #2, resolved — see SPEC_FULL.md). Published
// here so both input validation and documentation generation share one
// source of truth.
var Keys = map[string][]byte{
	"enter":     {'\r'},
	"tab":       {'\t'},
	"escape":    {0x1b},
	"backspace": {0x7f},
	"up":        {0x1b, '[', 'A'},
	"down":      {0x1b, '[', 'B'},
	"right":     {0x1b, '[', 'C'},
	"left":      {0x1b, '[', 'D'},
	"home":      {0x1b, '[', 'H'},
	"end":       {0x1b, '[', 'F'},
	"pageup":    {0x1b, '[', '5', '~'},
	"pagedown":  {0x1b, '[', '6', '~'},
	"delete":    {0x1b, '[', '3', '~'},
}

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		Keys[fmt.Sprintf("ctrl_%c", c)] = []byte{c - 'a' + 1}
	}
}

// KeyBytes translates a symbolic key token to its byte sequence.
func KeyBytes(key string) ([]byte, bool) {
	b, ok := Keys[key]
	return b, ok
}
