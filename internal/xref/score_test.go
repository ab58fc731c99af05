package xref

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/model"
)

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func corpusVenue(score, conf float64, sources int, tags ...string) model.Venue {
	return model.Venue{
		ID: "v1", City: "lisbon", Name: "Cafe Lua",
		CorpusScore: model.Float64(score), CorpusConfidence: model.Float64(conf),
		CorpusSourceCount: sources, CorpusTags: tags,
	}
}

func TestScore_IdenticalTagsMaxOverlapNoConflict(t *testing.T) {
	v := corpusVenue(0.4, 0.6, 1, "coffee", "bakery")
	r, ok := Score(v, &Signal{Score: 0.5, Confidence: 0.8, Tags: []string{"coffee", "bakery"}}, DefaultParams(), at)
	require.True(t, ok)

	assert.InDelta(t, 1.0, r.TagOverlap, 1e-9)
	assert.False(t, r.Conflict)
	assert.Equal(t, model.ProvenanceBothAgree, r.Provenance)
	assert.InDelta(t, 0.445, r.MergedScore, 1e-9)
	assert.InDelta(t, 0.85, r.MergedConfidence, 1e-9)
	assert.Equal(t, []string{"bakery", "coffee"}, r.MergedTags)
	assert.InDelta(t, 0.1, r.ScoreDelta, 1e-9)
	assert.Equal(t, at, r.ComputedAt)
}

func TestScore_BothTagSetsEmpty(t *testing.T) {
	v := corpusVenue(0.4, 0.6, 1)
	r, _ := Score(v, &Signal{Score: 0.5, Confidence: 0.8}, DefaultParams(), at)
	assert.Zero(t, r.TagOverlap)
	assert.InDelta(t, 0.7, r.MergedConfidence, 1e-9)
	assert.Empty(t, r.MergedTags)
}

func TestScore_ConflictLeansTowardCorpus(t *testing.T) {
	v := corpusVenue(0.2, 0.6, 1)
	r, _ := Score(v, &Signal{Score: 0.8, Confidence: 0.6}, DefaultParams(), at)

	assert.True(t, r.Conflict)
	assert.Equal(t, model.ProvenanceBothConflict, r.Provenance)
	assert.InDelta(t, 0.35, r.MergedScore, 1e-9)
	assert.Less(t, r.MergedScore-0.2, 0.8-r.MergedScore)
	assert.InDelta(t, 0.4, r.MergedConfidence, 1e-9)
}

func TestScore_ResearchOnlyDownWeighted(t *testing.T) {
	v := model.Venue{ID: "v9", City: "lisbon", Name: "New Place"}
	r, ok := Score(v, &Signal{Score: 0.9, Confidence: 0.8, Tags: []string{"rooftop"}, Method: model.MethodTrigram}, DefaultParams(), at)
	require.True(t, ok)

	assert.Equal(t, model.ProvenanceResearchOnly, r.Provenance)
	assert.InDelta(t, 0.56, r.MergedConfidence, 1e-9)
	assert.InDelta(t, 0.9, r.MergedScore, 1e-9)
	assert.Nil(t, r.CorpusScore)
	assert.Zero(t, r.TagOverlap)
	assert.Equal(t, model.MethodTrigram, r.ResolvedBy)
	assert.Equal(t, []string{"rooftop"}, r.MergedTags)
}

func TestScore_CorpusOnlyWithDiversity(t *testing.T) {
	r, ok := Score(corpusVenue(0.3, 0.8, 4, "coffee"), nil, DefaultParams(), at)
	require.True(t, ok)
	assert.Equal(t, model.ProvenanceCorpusOnly, r.Provenance)
	assert.InDelta(t, 0.78, r.MergedConfidence, 1e-9)
	assert.InDelta(t, 0.3, r.MergedScore, 1e-9)
	assert.Nil(t, r.ResearchScore)
}

func TestScore_DiversityBonusCapped(t *testing.T) {
	r, _ := Score(corpusVenue(0.4, 0.6, 3), &Signal{Score: 0.5, Confidence: 0.6}, DefaultParams(), at)
	assert.InDelta(t, 0.7, r.MergedConfidence, 1e-9)

	r, _ = Score(corpusVenue(0.4, 1, 9, "coffee"), &Signal{Score: 0.4, Confidence: 1, Tags: []string{"coffee"}}, DefaultParams(), at)
	assert.InDelta(t, 1.0, r.MergedConfidence, 1e-9)
}

func TestScore_NoData(t *testing.T) {
	_, ok := Score(model.Venue{ID: "v"}, nil, DefaultParams(), at)
	assert.False(t, ok)
}

func TestScore_Prior(t *testing.T) {
	v := corpusVenue(0.4, 0.6, 1, "coffee")
	r, _ := Score(v, nil, DefaultParams(), at)
	assert.InDelta(t, 0.6, *r.PriorConfidence, 1e-9)
	assert.Equal(t, []string{"coffee"}, r.PriorTags)

	v.Research.Confidence = model.Float64(0.9)
	v.Research.Score = model.Float64(0.1)
	r, _ = Score(v, nil, DefaultParams(), at)
	assert.InDelta(t, 0.9, *r.PriorConfidence, 1e-9)
	assert.InDelta(t, 0.1, *r.PriorScore, 1e-9)
}

func TestMergeTags_Ranking(t *testing.T) {
	p := DefaultParams()
	corpus := &Signal{Tags: []string{"a", "b"}}
	research := &Signal{Tags: []string{"d", "c", "b"}}
	assert.Equal(t, []string{"b", "a", "c", "d"}, mergeTags(corpus, research, false, p))

	corpus = &Signal{Tags: []string{"z"}}
	research = &Signal{Tags: []string{"a"}}
	assert.Equal(t, []string{"z", "a"}, mergeTags(corpus, research, true, p))

	many := &Signal{Tags: []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10"}}
	assert.Len(t, mergeTags(nil, many, false, p), 8)
}

func TestJaccard(t *testing.T) {
	assert.Zero(t, Jaccard(nil, nil))
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.InDelta(t, 1.0, Jaccard([]string{"a"}, []string{"a"}), 1e-9)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.MaxTags = 0
	p.ConflictCorpusWeight = 0.5
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tags")
	assert.Contains(t, err.Error(), "conflict_corpus_weight")
}
