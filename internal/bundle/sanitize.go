package bundle

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/venue-fusion/internal/model"
)

var (
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	userURL  = regexp.MustCompile(`(?i)https?://\S*/(?:u|user|users|profile|people|@)[/\w.@-]*\S*`)
	phoneRe  = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{2,4}\)[\s.-]?)?\d{2,4}[\s.-]\d{3,4}[\s.-]\d{3,4}`)
	handleRe = regexp.MustCompile(`(?:^|[\s(])(?:@[A-Za-z0-9_.]{2,}|u/[A-Za-z0-9_-]{3,})`)
	yearRe   = regexp.MustCompile(`^(?:19|20)\d\d$`)
	spacesRe = regexp.MustCompile(`[ \t]{2,}`)
)

// directivePatterns match sentences that read as instructions to a model
// rather than evidence about a place.
var directivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(?:all\s+|any\s+)?(?:the\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|directions|prompts?)`),
	regexp.MustCompile(`(?i)\bdisregard\s+(?:all\s+|any\s+)?(?:the\s+)?(?:previous|prior|above|earlier|your)\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\b`),
	regexp.MustCompile(`(?i)\bsystem\s+prompt\b`),
	regexp.MustCompile(`(?i)\bset\s+(?:all|every)\s+(?:the\s+)?(?:scores?|ratings?|confidences?)\s+to\b`),
	regexp.MustCompile(`<\|[^|]*\|>`),
	regexp.MustCompile(`(?i)#{2,}\s*(?:instruction|system)`),
	regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`),
}

// Sanitize strips identifying substrings and drops directive-like sentences.
// It returns the cleaned text and what was removed.
func Sanitize(text string) (string, model.Removal) {
	var r model.Removal

	sentences := splitSentences(text)
	kept := sentences[:0]
	for _, s := range sentences {
		if isDirective(s) {
			r.Directives++
			continue
		}
		kept = append(kept, s)
	}
	text = strings.Join(kept, " ")

	text = userURL.ReplaceAllStringFunc(text, func(string) string {
		r.URLs++
		return ""
	})
	text = emailRe.ReplaceAllStringFunc(text, func(string) string {
		r.Emails++
		return ""
	})
	text = phoneRe.ReplaceAllStringFunc(text, func(m string) string {
		if !looksLikePhone(m) {
			return m
		}
		r.Phones++
		return ""
	})
	text = handleRe.ReplaceAllStringFunc(text, func(m string) string {
		r.Handles++
		// keep the leading separator the pattern consumed
		if first := rune(m[0]); unicode.IsSpace(first) || first == '(' {
			return m[:1]
		}
		return ""
	})

	text = spacesRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), r
}

func isDirective(sentence string) bool {
	for _, p := range directivePatterns {
		if p.MatchString(sentence) {
			return true
		}
	}
	return false
}

// looksLikePhone rejects runs of years ("2019 2020 2021") and short
// numeric groups that the phone pattern would otherwise catch.
func looksLikePhone(m string) bool {
	groups := strings.FieldsFunc(m, func(r rune) bool { return !unicode.IsDigit(r) })
	digits, years := 0, 0
	for _, g := range groups {
		digits += len(g)
		if yearRe.MatchString(g) {
			years++
		}
	}
	return digits >= 9 && years < len(groups)
}

// splitSentences breaks text after terminal punctuation or newlines.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, c := range runes {
		end := false
		switch c {
		case '\n':
			end = true
		case '.', '!', '?':
			end = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		}
		if end {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
