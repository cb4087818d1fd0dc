package triage

import (
	"strings"
	"unicode"
)

// Normalize folds case, drops apostrophes so contractions stay one token,
// keeps "$" as a token of its own and turns every other non letter/digit
// rune into a separator.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
			continue
		case r == '$':
			b.WriteString(" $ ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase occurs in normalized text on token
// boundaries, so "bill" does not match "billion".
func containsPhrase(normalized, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+normalized+" ", " "+phrase+" ")
}
