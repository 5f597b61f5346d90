package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncateUTF8 cuts s to at most maxBytes, backing off until the result is
// valid UTF-8.
func TruncateUTF8(s string, maxBytes int) string {
	switch {
	case maxBytes <= 0:
		return ""
	case len(s) <= maxBytes:
		return s
	}
	cut := s[:maxBytes]
	for cut != "" && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

type escState int

const (
	inText escState = iota
	afterESC
	inCSI
	inOSC
	inOSCAfterESC
)

// maxCSILen bounds a CSI sequence so a lone "ESC [" cannot swallow the rest
// of a line.
const maxCSILen = 64

// StripControlChars removes ANSI escape sequences and control characters
// other than newline and tab. Toolchain output passes through here before
// it reaches observers.
func StripControlChars(s string) string {
	var (
		b     strings.Builder
		state = inText
		csi   int
	)
	b.Grow(len(s))
	for _, r := range s {
		switch state {
		case afterESC:
			switch r {
			case '[':
				state, csi = inCSI, 0
			case ']':
				state = inOSC
			default:
				state = inText
			}
		case inCSI:
			csi++
			if (r >= 0x40 && r <= 0x7e) || csi >= maxCSILen {
				state = inText
			}
		case inOSC:
			switch r {
			case '\x07':
				state = inText
			case '\x1b':
				state = inOSCAfterESC
			}
		case inOSCAfterESC:
			if r == '\\' {
				state = inText
			} else {
				state = inOSC
			}
		default:
			switch {
			case r == '\x1b':
				state = afterESC
			case r == '\n' || r == '\t' || (r >= ' ' && !unicode.IsControl(r)):
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// HeadLines returns at most max non-empty lines of s with trailing
// whitespace trimmed, and how many further non-empty lines were dropped.
func HeadLines(s string, max int) ([]string, int) {
	var out []string
	dropped := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(out) >= max {
			dropped++
			continue
		}
		out = append(out, line)
	}
	return out, dropped
}

// CString escapes value for use inside a double-quoted C string literal.
// Control characters are emitted as octal escapes so a generated header
// can never be broken by user input.
func CString(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 2)
	for _, r := range value {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '?':
			// Avoid accidental trigraphs.
			b.WriteString(`\?`)
		default:
			if r < 0x20 || r == 0x7f {
				b.WriteString(`\`)
				b.WriteByte('0' + byte(r>>6&7))
				b.WriteByte('0' + byte(r>>3&7))
				b.WriteByte('0' + byte(r&7))
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
