package util

import "strings"

// SanitizeText strips bytes that Postgres text columns reject, most notably
// NUL runs produced by some PDF extractors, plus non-printing controls.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")

	out := make([]rune, 0, len(s))
	for _, ch := range s {
		switch {
		case ch == '\n' || ch == '\r' || ch == '\t':
			out = append(out, ch)
		case ch < 0x20:
			// drop remaining control characters
		default:
			out = append(out, ch)
		}
	}
	return strings.TrimSpace(string(out))
}
