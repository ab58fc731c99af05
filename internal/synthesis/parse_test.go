package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/model"
)

func TestParseBatch(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		outcome BatchOutcome
		reason  string
		signals int
	}{
		{
			name: "parsed with fences and prose",
			text: "Here you go:\n```json\n" +
				`{"venues":[{"name":"Cafe Lua","tags":["coffee"],"touristiness":0.2,"confidence":0.7,"knowledge_source":"bundle","amplification_suspect":false,"conflict_note":"","evidence_ids":["d1"]}]}` +
				"\n```",
			outcome: BatchParsed,
			signals: 1,
		},
		{
			name:    "not json",
			text:    "I cannot help with that.",
			outcome: BatchParseError,
		},
		{
			name:    "truncated json",
			text:    `{"venues":[{"name":"Cafe Lua"`,
			outcome: BatchParseError,
		},
		{
			name:    "unknown field",
			text:    `{"venues":[],"notes":"x"}`,
			outcome: BatchSchemaError,
			reason:  "unknown field",
		},
		{
			name:    "missing venues",
			text:    `{}`,
			outcome: BatchSchemaError,
			reason:  `"venues"`,
		},
		{
			name:    "missing confidence",
			text:    `{"venues":[{"name":"A","tags":[],"touristiness":0.5,"knowledge_source":"prior"}]}`,
			outcome: BatchSchemaError,
			reason:  `"confidence"`,
		},
		{
			name:    "wrong type",
			text:    `{"venues":[{"name":"A","tags":[],"touristiness":"high","confidence":0.5,"knowledge_source":"prior"}]}`,
			outcome: BatchSchemaError,
		},
		{
			name:    "invalid enum",
			text:    `{"venues":[{"name":"A","tags":[],"touristiness":0.5,"confidence":0.5,"knowledge_source":"rumour"}]}`,
			outcome: BatchSchemaError,
			reason:  "knowledge_source",
		},
		{
			name: "duplicate names collapse",
			text: `{"venues":[` +
				`{"name":"A","tags":[],"touristiness":0.5,"confidence":0.5,"knowledge_source":"prior"},` +
				`{"name":" a ","tags":[],"touristiness":0.1,"confidence":0.1,"knowledge_source":"prior"}]}`,
			outcome: BatchParsed,
			signals: 1,
		},
		{
			name:    "out of range scores are left to validation",
			text:    `{"venues":[{"name":"A","tags":["made-up"],"touristiness":1.7,"confidence":-1,"knowledge_source":"both"}]}`,
			outcome: BatchParsed,
			signals: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseBatch(tt.text)
			assert.Equal(t, tt.outcome, r.Outcome, r.Reason)
			assert.Len(t, r.Signals, tt.signals)
			if tt.reason != "" {
				assert.Contains(t, r.Reason, tt.reason)
			}
		})
	}
}

func TestParseBatch_Fields(t *testing.T) {
	r := ParseBatch(`{"venues":[{"name":" Cafe Lua ","tags":["coffee","bakery"],"touristiness":0.2,"confidence":0.7,` +
		`"knowledge_source":"both","amplification_suspect":true,"conflict_note":" reviews split ","evidence_ids":["d1","d2"]}]}`)
	require.True(t, r.OK())
	s := r.Signals[0]
	assert.Equal(t, "Cafe Lua", s.RawName)
	assert.Equal(t, []string{"coffee", "bakery"}, s.Tags)
	assert.Equal(t, model.KnowledgeBoth, s.KnowledgeSource)
	assert.True(t, s.AmplificationSuspect)
	assert.Equal(t, "reviews split", s.ConflictNote)
	assert.Equal(t, []string{"d1", "d2"}, s.EvidenceIDs)
}

func TestParseSynthesis(t *testing.T) {
	syn, err := ParseSynthesis(`{"summary":"Hilly city.","neighborhoods":[{"name":"Alfama","character":"old"}],` +
		`"temporal_patterns":["late dinners"],"notable_venues":["Cafe Lua"],` +
		`"divergences":[{"topic":"Cafe Lua","bundle_claim":"touristy now","prior_belief":"local spot"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "Hilly city.", syn.Summary)
	require.Len(t, syn.Divergences, 1)
	assert.Equal(t, "local spot", syn.Divergences[0].PriorBelief)

	_, err = ParseSynthesis(`{"summary":"x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "divergences")

	_, err = ParseSynthesis(`{"summary":"x","divergences":[],"extra":1}`)
	assert.Error(t, err)
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("sure: {\"a\":1} done"))
	assert.Equal(t, "no json", cleanJSON("  no json "))
}
