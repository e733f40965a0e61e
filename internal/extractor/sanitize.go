package extractor

import (
	"strings"
	"unicode"
)

// SanitizeVoice reduces text to something a speech engine can read aloud:
// printable ASCII only, no markdown emphasis or heading marks, single spaces.
func SanitizeVoice(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
		case r == '*', r == '#', r == '_', r == '`':
		case r == ' ', r == '\t', r == '\n', r == '\r', r == '\v', r == '\f':
			b.WriteByte(' ')
		case r < 0x20, r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
