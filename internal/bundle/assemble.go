// Package bundle curates per-city evidence documents into a token-bounded,
// sanitized grounding bundle for the synthesis passes.
package bundle

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
)

// ErrNoSourceData is returned before any spend when a city has no usable documents.
var ErrNoSourceData = eris.New("bundle: no source data for city")

// Source is the read-only upstream content store.
type Source interface {
	ListSourceDocuments(ctx context.Context, city string) ([]model.SourceDocument, error)
}

// Assembler builds bundles.
type Assembler struct {
	src Source
	cfg config.BundleConfig
}

// NewAssembler creates an Assembler.
func NewAssembler(src Source, cfg config.BundleConfig) *Assembler {
	return &Assembler{src: src, cfg: cfg}
}

// HasData reports whether the city has any source documents at all. It is
// the cheap pre-flight check run before admission.
func (a *Assembler) HasData(ctx context.Context, city string) (bool, error) {
	docs, err := a.src.ListSourceDocuments(ctx, city)
	if err != nil {
		return false, eris.Wrapf(err, "bundle: list documents for %s", city)
	}
	return len(docs) > 0, nil
}

// Assemble selects, sanitizes, and budgets the documents for one city.
func (a *Assembler) Assemble(ctx context.Context, city string, candidates []string) (*model.Bundle, error) {
	log := zap.L().With(zap.String("component", "bundle"), zap.String("city", city))

	raw, err := a.src.ListSourceDocuments(ctx, city)
	if err != nil {
		return nil, eris.Wrapf(err, "bundle: list documents for %s", city)
	}
	if len(raw) == 0 {
		return nil, eris.Wrapf(ErrNoSourceData, "bundle: city %s", city)
	}

	b := &model.Bundle{City: city}
	matcher := newMentionMatcher(candidates)

	var docs []model.BundleDocument
	for _, group := range topPerSourceType(raw, a.cfg.MaxDocsPerSourceType) {
		for _, sd := range group {
			text := sd.Text
			if sd.Title != "" {
				text = sd.Title + ". " + text
			}
			clean, removed := Sanitize(text)
			b.Removed.Add(removed)
			clean = CapTokens(clean, a.cfg.PerDocTokens)
			if clean == "" {
				continue
			}
			doc := model.BundleDocument{
				ID:         sd.ID,
				SourceType: sd.SourceType,
				Quality:    sd.quality,
				Tokens:     EstimateTokens(clean),
				Scope:      model.ScopeGeneral,
				Mentions:   matcher.find(clean),
				Engagement: sd.Engagement,
				Text:       clean,
			}
			if len(doc.Mentions) > 0 {
				doc.Scope = model.ScopeVenue
			}
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, eris.Wrapf(ErrNoSourceData, "bundle: city %s has no usable documents after sanitization", city)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Quality != docs[j].Quality {
			return docs[i].Quality > docs[j].Quality
		}
		return docs[i].ID < docs[j].ID
	})
	docs, b.DroppedForBudget = fitBudget(docs, a.cfg.TokenBudget)

	b.Documents = docs
	for _, d := range docs {
		b.TotalTokens += d.Tokens
	}
	b.AmplificationSuspect = amplificationSuspects(docs, candidates, a.cfg.AmplificationShare, a.cfg.AmplificationMinDocs)

	log.Info("bundle: assembled",
		zap.Int("documents", len(docs)),
		zap.Int("tokens", b.TotalTokens),
		zap.Int("dropped_for_budget", b.DroppedForBudget),
		zap.Int("identifying_removed", b.Removed.Identifying()),
		zap.Int("directives_removed", b.Removed.Directives),
		zap.Strings("amplification_suspects", b.AmplificationSuspect),
	)
	return b, nil
}

type rankedDoc struct {
	model.SourceDocument
	quality float64
}

// topPerSourceType ranks documents within each source type by quality and
// keeps the top limit of each. Groups come back in source-type order.
func topPerSourceType(raw []model.SourceDocument, limit int) [][]rankedDoc {
	byType := make(map[string][]model.SourceDocument)
	for _, d := range raw {
		byType[d.SourceType] = append(byType[d.SourceType], d)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make([][]rankedDoc, 0, len(types))
	for _, t := range types {
		group := byType[t]
		maxEng := 0.0
		for _, d := range group {
			maxEng = math.Max(maxEng, d.Engagement)
		}
		ranked := make([]rankedDoc, len(group))
		for i, d := range group {
			ranked[i] = rankedDoc{SourceDocument: d, quality: Quality(d.Engagement, maxEng, d.Authority)}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].quality != ranked[j].quality {
				return ranked[i].quality > ranked[j].quality
			}
			return ranked[i].ID < ranked[j].ID
		})
		if limit > 0 && len(ranked) > limit {
			ranked = ranked[:limit]
		}
		out = append(out, ranked)
	}
	return out
}

// Quality blends log-normalized engagement within a source type with the
// document's authority.
func Quality(engagement, maxEngagement, authority float64) float64 {
	eng := 0.0
	if maxEngagement > 0 && engagement > 0 {
		eng = math.Log1p(engagement) / math.Log1p(maxEngagement)
	}
	return 0.7*eng + 0.3*clamp01(authority)
}

// fitBudget drops the lowest-ranked general documents first, then the
// lowest-ranked venue documents, until the total fits. docs must be sorted
// best first.
func fitBudget(docs []model.BundleDocument, budget int) ([]model.BundleDocument, int) {
	if budget <= 0 {
		return docs, 0
	}
	total := 0
	for _, d := range docs {
		total += d.Tokens
	}
	dropped := make([]bool, len(docs))
	count := 0
	for _, scope := range []model.DocumentScope{model.ScopeGeneral, model.ScopeVenue} {
		for i := len(docs) - 1; i >= 0 && total > budget; i-- {
			if dropped[i] || docs[i].Scope != scope {
				continue
			}
			dropped[i] = true
			total -= docs[i].Tokens
			count++
		}
	}
	kept := make([]model.BundleDocument, 0, len(docs)-count)
	for i, d := range docs {
		if !dropped[i] {
			kept = append(kept, d)
		}
	}
	return kept, count
}

func amplificationSuspects(docs []model.BundleDocument, candidates []string, share float64, minDocs int) []string {
	if len(docs) == 0 || len(docs) < minDocs {
		return nil
	}
	counts := make(map[string]int)
	for _, d := range docs {
		for _, m := range d.Mentions {
			counts[m]++
		}
	}
	var out []string
	for _, c := range candidates {
		if n := counts[c]; n > 0 && float64(n)/float64(len(docs)) > share {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// EstimateTokens approximates tokens as one per four runes.
func EstimateTokens(s string) int {
	n := len([]rune(s))
	return (n + 3) / 4
}

// CapTokens truncates s to roughly maxTokens, cutting at a word boundary.
func CapTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	runes := []rune(s)
	limit := maxTokens * 4
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, " \n"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
