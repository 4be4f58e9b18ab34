package session

import (
	"strings"
	"unicode"
)

// normalizeTranscript canonicalizes a transcript for duplicate comparison:
// lowercase, strip everything that is not a letter, digit, underscore, or
// whitespace, trim.
func normalizeTranscript(text string) string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// isBetterFormatted reports whether candidate improves on baseline: it has
// terminal punctuation the baseline lacks, or casing the baseline lacks.
// Only meaningful when the two normalize identically. The casing check is
// deliberately ASCII-only.
func isBetterFormatted(candidate, baseline string) bool {
	if hasTerminalPunctuation(candidate) && !hasTerminalPunctuation(baseline) {
		return true
	}
	if hasUpperCase(candidate) && !hasUpperCase(baseline) {
		return true
	}
	return false
}

func hasTerminalPunctuation(s string) bool {
	return strings.ContainsAny(s, ".!?")
}

func hasUpperCase(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}
