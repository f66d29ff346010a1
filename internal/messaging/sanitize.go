package messaging

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxBodyRunes bounds the length of a plaintext body after sanitizing.
	MaxBodyRunes = 8000
	// MaxEnvelopeBytes bounds an encrypted body. Ciphertext plus its base64
	// framing runs well past the plaintext rune limit.
	MaxEnvelopeBytes = 64 << 10
)

// sanitizeBody trims surrounding whitespace and drops control characters,
// keeping newlines and tabs. Encrypted envelopes are opaque and only trimmed.
func sanitizeBody(s string, encrypted bool) string {
	s = strings.TrimSpace(s)
	if encrypted {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isStrippedRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return strings.TrimSpace(b.String())
}

func isStrippedRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r == utf8.RuneError:
		return true
	// Bidi overrides and isolates.
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return true
	default:
		return unicode.IsControl(r)
	}
}
