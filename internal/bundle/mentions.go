package bundle

import (
	"strings"
	"unicode"
)

// mentionMatcher finds candidate venue names in text on word boundaries,
// case-insensitively.
type mentionMatcher struct {
	names []string
	lower []string
}

func newMentionMatcher(candidates []string) *mentionMatcher {
	m := &mentionMatcher{}
	for _, c := range candidates {
		l := strings.ToLower(strings.TrimSpace(c))
		if len([]rune(l)) < 3 {
			continue
		}
		m.names = append(m.names, c)
		m.lower = append(m.lower, l)
	}
	return m
}

func (m *mentionMatcher) find(text string) []string {
	lt := strings.ToLower(text)
	var out []string
	for i, name := range m.lower {
		if Mentions(lt, name) {
			out = append(out, m.names[i])
		}
	}
	return out
}

// Mentions reports whether lowered text contains lowered name bounded by
// non-letter, non-digit runes.
func Mentions(text, name string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(name)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		from = i + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := []rune(s[i:])[0]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func lastRune(s string) rune {
	r := []rune(s)
	return r[len(r)-1]
}
