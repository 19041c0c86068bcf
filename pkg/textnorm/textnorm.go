// Package textnorm produces comparison keys for medical surface text.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Key returns the normalized form used for equality: NFKC, case-folded,
// control characters dropped and whitespace runs collapsed to one space.
func Key(text string) string {
	normed := folder.String(norm.NFKC.String(text))

	var b strings.Builder
	b.Grow(len(normed))
	space := false
	for _, r := range normed {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Equal reports whether two surface texts normalize to the same key.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments are normalized first, so "Chest  PAIN" matches "chest pain"
// but "hr" does not match "three".
func ContainsPhrase(text, phrase string) bool {
	return containsKey(Key(text), Key(phrase))
}

// Matcher checks many phrases against one normalized text.
type Matcher struct {
	key string
}

func NewMatcher(text string) Matcher {
	return Matcher{key: Key(text)}
}

func (m Matcher) Contains(phrase string) bool {
	return containsKey(m.key, Key(phrase))
}

func containsKey(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	from := 0
	for from <= len(text)-len(phrase) {
		idx := strings.Index(text[from:], phrase)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	for _, r := range s[i:] {
		return !isWordRune(r)
	}
	return true
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
