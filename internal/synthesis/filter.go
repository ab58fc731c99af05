package synthesis

import (
	"sort"
	"strings"

	"github.com/sells-group/venue-fusion/internal/bundle"
	"github.com/sells-group/venue-fusion/internal/model"
)

// FilterSnippets returns, in bundle order, the documents that mention any
// of names, capped at limit. It is pure: same inputs, same output.
func FilterSnippets(docs []model.BundleDocument, names []string, limit int) []model.BundleDocument {
	want := make(map[string]struct{}, len(names))
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		want[n] = struct{}{}
		lowered = append(lowered, strings.ToLower(n))
	}

	var out []model.BundleDocument
	for _, d := range docs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if mentionsAny(d, want, lowered) {
			out = append(out, d)
		}
	}
	return out
}

func mentionsAny(d model.BundleDocument, want map[string]struct{}, lowered []string) bool {
	for _, m := range d.Mentions {
		if _, ok := want[m]; ok {
			return true
		}
	}
	text := strings.ToLower(d.Text)
	for _, n := range lowered {
		if len(n) >= 3 && bundle.Mentions(text, n) {
			return true
		}
	}
	return false
}

// TopEngagement returns the n highest-engagement documents, ties broken by
// id, for fixed city-wide context in every batch.
func TopEngagement(docs []model.BundleDocument, n int) []model.BundleDocument {
	sorted := make([]model.BundleDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Engagement != sorted[j].Engagement {
			return sorted[i].Engagement > sorted[j].Engagement
		}
		return sorted[i].ID < sorted[j].ID
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Batches splits candidates into fixed-size batches, preserving order.
func Batches(candidates []string, size int) [][]string {
	if size <= 0 {
		size = 50
	}
	var out [][]string
	for start := 0; start < len(candidates); start += size {
		end := min(start+size, len(candidates))
		out = append(out, candidates[start:end])
	}
	return out
}
