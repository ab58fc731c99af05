package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/venue-fusion/internal/model"
)

func docs() []model.BundleDocument {
	return []model.BundleDocument{
		{ID: "d1", Text: "Cafe Lua opens early.", Mentions: []string{"Cafe Lua"}, Engagement: 5},
		{ID: "d2", Text: "General notes on trams.", Engagement: 50},
		{ID: "d3", Text: "Tasca do Bairro and cafe lua both busy.", Engagement: 10},
		{ID: "d4", Text: "Miradouro views.", Mentions: []string{"Miradouro"}, Engagement: 50},
	}
}

func TestFilterSnippets(t *testing.T) {
	got := FilterSnippets(docs(), []string{"Cafe Lua", "Tasca do Bairro"}, 10)
	assert.Equal(t, []string{"d1", "d3"}, ids(got))

	got = FilterSnippets(docs(), []string{"Cafe Lua"}, 1)
	assert.Equal(t, []string{"d1"}, ids(got))

	assert.Empty(t, FilterSnippets(docs(), []string{"Nowhere"}, 10))
}

func TestFilterSnippets_Pure(t *testing.T) {
	in := docs()
	a := FilterSnippets(in, []string{"Miradouro", "Cafe Lua"}, 5)
	b := FilterSnippets(in, []string{"Miradouro", "Cafe Lua"}, 5)
	assert.Equal(t, a, b)
	assert.Equal(t, docs(), in)
}

func TestTopEngagement(t *testing.T) {
	got := TopEngagement(docs(), 3)
	assert.Equal(t, []string{"d2", "d4", "d3"}, ids(got))
	assert.Len(t, TopEngagement(docs(), 0), 0)
	assert.Len(t, TopEngagement(docs(), 10), 4)
}

func TestBatches(t *testing.T) {
	b := Batches([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, b)
	assert.Empty(t, Batches(nil, 2))
	assert.Len(t, Batches(make([]string, 120), 0), 3)
}

func ids(docs []model.BundleDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
