package dex

import (
	"errors"
	"strings"
	"unicode/utf16"
)

var errBadMUTF8 = errors.New("invalid MUTF-8 sequence")

// decodeMUTF8 decodes a NUL-free MUTF-8 byte string and returns its UTF-16
// length. Surrogate pairs arrive as two 3-byte sequences and the NUL
// character as 0xC0 0x80.
func decodeMUTF8(b []byte) (string, int, error) {
	var sb strings.Builder
	sb.Grow(len(b))
	units := 0
	var pending rune = -1

	flush := func() {
		if pending >= 0 {
			sb.WriteRune(pending)
			pending = -1
		}
	}

	for i := 0; i < len(b); {
		c := b[i]
		var r rune
		switch {
		case c < 0x80:
			if c == 0 {
				return "", 0, errBadMUTF8
			}
			r = rune(c)
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return "", 0, errBadMUTF8
			}
			r = rune(c&0x1f)<<6 | rune(b[i+1]&0x3f)
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return "", 0, errBadMUTF8
			}
			r = rune(c&0x0f)<<12 | rune(b[i+1]&0x3f)<<6 | rune(b[i+2]&0x3f)
			i += 3
		default:
			return "", 0, errBadMUTF8
		}
		units++

		switch {
		case utf16.IsSurrogate(r) && r < 0xdc00:
			flush()
			pending = r
		case utf16.IsSurrogate(r) && pending >= 0:
			sb.WriteRune(utf16.DecodeRune(pending, r))
			pending = -1
		default:
			// Lone surrogates become U+FFFD through WriteRune.
			flush()
			sb.WriteRune(r)
		}
	}
	flush()
	return sb.String(), units, nil
}
