// Package xref merges the corpus signal and the research signal for each
// venue into one audited cross-reference result.
package xref

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/vocab"
)

// Signal is one side of the fusion, normalized for scoring.
type Signal struct {
	Score       float64
	Confidence  float64
	Tags        []string
	Amplified   bool
	SourceCount int
	Method      model.ResolutionMethod
}

// CorpusSignalFromVenue reconstructs the corpus signal from the venue's own
// columns. It returns nil when the corpus never scored the venue.
func CorpusSignalFromVenue(v model.Venue) *Signal {
	if v.CorpusScore == nil {
		return nil
	}
	s := &Signal{
		Score:       *v.CorpusScore,
		Tags:        normalizeTags(v.CorpusTags),
		Amplified:   v.CorpusAmplified,
		SourceCount: v.CorpusSourceCount,
	}
	if v.CorpusConfidence != nil {
		s.Confidence = *v.CorpusConfidence
	}
	return s
}

// ResearchSignal converts a resolved research row.
func ResearchSignal(s model.VenueResearchSignal) *Signal {
	return &Signal{
		Score:      s.Touristiness,
		Confidence: s.Confidence,
		Tags:       normalizeTags(s.Tags),
		Amplified:  s.AmplificationSuspect,
		Method:     s.ResolutionMethod,
	}
}

var resultNamespace = uuid.MustParse("6f1c2a7e-3b54-4d0a-9e8f-2c7d41b5a903")

// ResultID is the stable id of the result for (job, venue). Rescoring the
// same pair yields the same id, so a resumed job matches its stored rows.
func ResultID(jobID, venueID string) string {
	return uuid.NewSHA1(resultNamespace, []byte(jobID+"/"+venueID)).String()
}

// Score merges the venue's corpus signal with research. research may be nil
// for a corpus-only result. ok is false when neither side has data.
func Score(v model.Venue, research *Signal, p Params, computedAt time.Time) (model.CrossReferenceResult, bool) {
	corpus := CorpusSignalFromVenue(v)
	if corpus == nil && research == nil {
		return model.CrossReferenceResult{}, false
	}

	r := model.CrossReferenceResult{
		VenueID:      v.ID,
		VenueName:    v.Name,
		City:         v.City,
		Action:       model.ActionPending,
		ReviewStatus: model.ReviewNone,
		ComputedAt:   computedAt.UTC().Truncate(time.Microsecond),
	}
	r.PriorScore, r.PriorConfidence, r.PriorTags = prior(v)

	amplified := (corpus != nil && corpus.Amplified) || (research != nil && research.Amplified)
	r.MergedTags = mergeTags(corpus, research, amplified, p)

	switch {
	case research == nil:
		r.Provenance = model.ProvenanceCorpusOnly
		r.CorpusScore = model.Float64(corpus.Score)
		r.CorpusConfidence = model.Float64(corpus.Confidence)
		r.MergedScore = corpus.Score
		r.MergedConfidence = clamp01(corpus.Confidence*p.CorpusOnlyFactor + diversity(corpus.SourceCount, p))

	case corpus == nil:
		r.Provenance = model.ProvenanceResearchOnly
		r.ResearchScore = model.Float64(research.Score)
		r.ResearchConfidence = model.Float64(research.Confidence)
		r.ResolvedBy = research.Method
		r.MergedScore = research.Score
		r.MergedConfidence = clamp01(research.Confidence * p.ResearchOnlyFactor)

	default:
		r.CorpusScore = model.Float64(corpus.Score)
		r.CorpusConfidence = model.Float64(corpus.Confidence)
		r.ResearchScore = model.Float64(research.Score)
		r.ResearchConfidence = model.Float64(research.Confidence)
		r.ResolvedBy = research.Method

		r.ScoreDelta = research.Score - corpus.Score
		r.Conflict = math.Abs(r.ScoreDelta) > p.ConflictDelta
		r.TagOverlap = Jaccard(corpus.Tags, research.Tags)

		w := p.AgreeCorpusWeight
		r.Provenance = model.ProvenanceBothAgree
		if r.Conflict {
			w = p.ConflictCorpusWeight
			r.Provenance = model.ProvenanceBothConflict
		}
		r.MergedScore = clamp01(w*corpus.Score + (1-w)*research.Score)

		conf := p.CorpusConfidenceWeight*corpus.Confidence +
			p.ResearchConfidenceWeight*research.Confidence +
			p.OverlapBonus*r.TagOverlap +
			diversity(corpus.SourceCount, p)
		if r.Conflict {
			conf -= p.ConflictPenalty
		}
		r.MergedConfidence = clamp01(conf)
	}
	return r, true
}

// prior is the venue's current value for the delta gate and the diff report:
// the existing research value when present, else the corpus value.
func prior(v model.Venue) (*float64, *float64, []string) {
	score, conf, tags := v.Research.Score, v.Research.Confidence, v.Research.Tags
	if score == nil {
		score = v.CorpusScore
	}
	if conf == nil {
		conf = v.CorpusConfidence
	}
	if tags == nil {
		tags = v.CorpusTags
	}
	return score, conf, tags
}

func diversity(sources int, p Params) float64 {
	if sources <= 1 {
		return 0
	}
	return math.Min(float64(sources-1)*p.DiversityStep, p.DiversityCap)
}

// Jaccard is |a ∩ b| / |a ∪ b| over tag sets. Two empty sets overlap 0.
func Jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	both := 0
	for _, m := range set {
		if m == 3 {
			both++
		}
	}
	return float64(both) / float64(len(set))
}

type weightedTag struct {
	tag    string
	weight float64
}

func mergeTags(corpus, research *Signal, amplified bool, p Params) []string {
	origin := make(map[string]int)
	if corpus != nil {
		for _, t := range corpus.Tags {
			origin[t] |= 1
		}
	}
	if research != nil {
		for _, t := range research.Tags {
			origin[t] |= 2
		}
	}

	tags := make([]weightedTag, 0, len(origin))
	for t, o := range origin {
		var w float64
		switch o {
		case 3:
			w = p.ConsensusTagWeight
		case 1:
			w = p.CorpusOnlyTagWeight
		case 2:
			w = p.ResearchOnlyTagWeight
			if amplified {
				w *= p.AmplifiedTagFactor
			}
		}
		tags = append(tags, weightedTag{tag: t, weight: w})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].weight != tags[j].weight {
			return tags[i].weight > tags[j].weight
		}
		return tags[i].tag < tags[j].tag
	})
	if len(tags) > p.MaxTags {
		tags = tags[:p.MaxTags]
	}

	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.tag
	}
	return out
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = vocab.Normalize(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
