// Package vocab loads the controlled tag vocabulary that every generated tag
// must come from. The live list is an externally maintained Notion
// database; a YAML fixture stands in for local runs and tests.
package vocab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Term is one allowed tag.
type Term struct {
	Tag         string `yaml:"tag"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// Vocabulary is an immutable allow-list of tags with a content version.
type Vocabulary struct {
	terms   []Term
	allowed map[string]struct{}
	version string
}

// New normalizes, dedupes, and sorts terms. Tags compare lowercase and
// trimmed. The version is a short hash over the sorted tag list so two
// jobs that saw the same list record the same version.
func New(terms []Term) *Vocabulary {
	seen := make(map[string]struct{}, len(terms))
	out := make([]Term, 0, len(terms))
	for _, t := range terms {
		t.Tag = Normalize(t.Tag)
		if t.Tag == "" {
			continue
		}
		if _, dup := seen[t.Tag]; dup {
			continue
		}
		seen[t.Tag] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })

	h := sha256.New()
	for _, t := range out {
		h.Write([]byte(t.Tag))
		h.Write([]byte{0})
	}
	return &Vocabulary{
		terms:   out,
		allowed: seen,
		version: hex.EncodeToString(h.Sum(nil))[:12],
	}
}

// Normalize lowercases and trims a tag for comparison.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Allowed reports whether tag is in the allow-list.
func (v *Vocabulary) Allowed(tag string) bool {
	_, ok := v.allowed[Normalize(tag)]
	return ok
}

// Tags returns the sorted tag names.
func (v *Vocabulary) Tags() []string {
	tags := make([]string, len(v.terms))
	for i, t := range v.terms {
		tags[i] = t.Tag
	}
	return tags
}

// Len returns the number of allowed tags.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Version returns the content hash of the allow-list.
func (v *Vocabulary) Version() string { return v.version }

// Prompt renders the allow-list for inclusion in a system prompt.
func (v *Vocabulary) Prompt() string {
	var b strings.Builder
	for _, t := range v.terms {
		b.WriteString("- ")
		b.WriteString(t.Tag)
		if t.Category != "" {
			fmt.Fprintf(&b, " [%s]", t.Category)
		}
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
