package validate

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/vocab"
)

var testVocab = vocab.New([]vocab.Term{{Tag: "coffee"}, {Tag: "bakery"}, {Tag: "rooftop"}, {Tag: "local-favorite"}})

func sig(name string, tour, conf float64, src model.KnowledgeSource, tags ...string) model.VenueResearchSignal {
	return model.VenueResearchSignal{
		ID: "s-" + name, RawName: name, Touristiness: tour, Confidence: conf,
		KnowledgeSource: src, Tags: tags,
	}
}

// spread returns n well-behaved signals with touristiness spread across [0.1, 0.9].
func spread(n int) []model.VenueResearchSignal {
	out := make([]model.VenueResearchSignal, n)
	for i := range out {
		tag := "coffee"
		if i%2 == 1 {
			tag = "bakery"
		}
		out[i] = sig(fmt.Sprintf("v%d", i), 0.1+0.8*float64(i)/float64(n-1), 0.6, model.KnowledgeBundle, tag)
	}
	return out
}

func TestCheck_CleanSignalsPass(t *testing.T) {
	g := NewGate(config.ValidationConfig{})
	r := g.Check(spread(10), testVocab, DistributionOf([]float64{0.1, 0.3, 0.5, 0.7, 0.9}))
	assert.True(t, r.Passed())
	assert.Empty(t, r.Warnings)
	assert.NoError(t, r.Err())
	assert.Equal(t, 10, r.Checked)
}

func TestCheck_HardViolations(t *testing.T) {
	g := NewGate(config.ValidationConfig{})
	signals := []model.VenueResearchSignal{
		sig("a", 0.5, 0.5, model.KnowledgeBundle, "Coffee"),
		sig("b", 0.5, 0.5, model.KnowledgeBundle, "hidden-gem"),
		sig("c", 1.2, 0.5, model.KnowledgeBundle),
		sig("d", 0.5, math.NaN(), model.KnowledgeBundle),
		sig("e", -0.1, 0.5, model.KnowledgeBundle),
	}
	r := g.Check(signals, testVocab, Distribution{})
	require.False(t, r.Passed())

	codes := map[string]int{}
	for _, v := range r.Violations {
		codes[v.Code]++
	}
	assert.Equal(t, 1, codes[CodeTagNotAllowed])
	assert.Equal(t, 3, codes[CodeScoreOutOfRange])
	assert.Equal(t, "s-b", r.Violations[0].SignalID)

	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score_out_of_range x3")
}

func TestCheck_ConfidenceInflation(t *testing.T) {
	g := NewGate(config.ValidationConfig{})
	signals := spread(6)
	for i := 0; i < 4; i++ {
		signals[i].Confidence = 0.95
	}
	r := g.Check(signals, testVocab, Distribution{})
	assert.True(t, r.Passed())
	assert.Equal(t, []string{CodeConfidenceInflation}, codesOf(r.Warnings))
}

func TestCheck_TagDominance(t *testing.T) {
	g := NewGate(config.ValidationConfig{})
	signals := spread(5)
	for i := range signals {
		signals[i].Tags = []string{"coffee", "coffee"}
	}
	r := g.Check(signals, testVocab, Distribution{})
	assert.Equal(t, []string{CodeTagDominance}, codesOf(r.Warnings))

	// below the minimum sample the rule does not fire
	r = g.Check(signals[:4], testVocab, Distribution{})
	assert.Empty(t, r.Warnings)
}

func TestCheck_PriorHeavy(t *testing.T) {
	g := NewGate(config.ValidationConfig{})
	signals := spread(4)
	for i := 0; i < 3; i++ {
		signals[i].KnowledgeSource = model.KnowledgePrior
	}
	r := g.Check(signals, testVocab, Distribution{})
	assert.Equal(t, []string{CodePriorHeavy}, codesOf(r.Warnings))
}

func TestCheck_SemanticShift(t *testing.T) {
	g := NewGate(config.ValidationConfig{})
	baseline := DistributionOf([]float64{0.1, 0.2, 0.3, 0.2, 0.1, 0.3})

	shifted := spread(6)
	for i := range shifted {
		shifted[i].Touristiness = 0.7 + 0.05*float64(i%3)
	}
	r := g.Check(shifted, testVocab, baseline)
	assert.Contains(t, codesOf(r.Warnings), CodeMeanShift)

	collapsed := spread(6)
	for i := range collapsed {
		collapsed[i].Touristiness = 0.2
	}
	r = g.Check(collapsed, testVocab, baseline)
	assert.Equal(t, []string{CodeSpreadCollapse}, codesOf(r.Warnings))

	// too few corpus scores: no shift rules
	r = g.Check(shifted, testVocab, DistributionOf([]float64{0.1, 0.1}))
	assert.NotContains(t, codesOf(r.Warnings), CodeMeanShift)
}

func TestReport_JobWarnings(t *testing.T) {
	r := Report{Warnings: []Finding{{Code: CodePriorHeavy, Message: "m"}}}
	w := r.JobWarnings()
	require.Len(t, w, 1)
	assert.Equal(t, model.SeverityWarning, w[0].Severity)
	assert.Equal(t, CodePriorHeavy, w[0].Code)
}

func TestCorpusBaseline(t *testing.T) {
	d := CorpusBaseline([]model.Venue{
		{CorpusScore: model.Float64(0.2)},
		{CorpusScore: model.Float64(0.4)},
		{},
	})
	assert.Equal(t, 2, d.N)
	assert.InDelta(t, 0.3, d.Mean, 1e-9)
	assert.InDelta(t, 0.1, d.StdDev, 1e-9)
}

func codesOf(fs []Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Code)
	}
	return out
}
