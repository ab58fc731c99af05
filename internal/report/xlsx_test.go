package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubStore struct {
	unresolved []model.UnresolvedResearchSignal
	err        error
}

func (s stubStore) ListUnresolved(context.Context, string) ([]model.UnresolvedResearchSignal, error) {
	return s.unresolved, s.err
}

func rows(t *testing.T, f *xlsx.File, name string) [][]string {
	t.Helper()
	sheet, ok := f.Sheet[name]
	require.True(t, ok, "sheet %s", name)
	var out [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		out = append(out, cells)
	}
	return out
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	job := &model.ResearchJob{ID: "job-1", City: "lisbon"}
	st := stubStore{unresolved: []model.UnresolvedResearchSignal{
		{JobID: "job-1", RawName: "Ghost Lounge", NormalizedName: "ghost lounge", Attempts: 1},
		{JobID: "job-0", RawName: "Older Name", NormalizedName: "older name", Attempts: 3},
	}}
	results := []model.CrossReferenceResult{
		{
			ID: "r1", VenueID: "v1", VenueName: "Cafe Lua", Provenance: model.ProvenanceBothConflict, Conflict: true,
			PriorScore: model.Float64(0.3), PriorConfidence: model.Float64(0.2),
			CorpusScore: model.Float64(0.3), CorpusConfidence: model.Float64(0.2),
			ResearchScore: model.Float64(0.8), ResearchConfidence: model.Float64(0.9),
			MergedScore: 0.6, MergedConfidence: 0.8, MergedTags: []string{"coffee", "hidden-gem"},
			ScoreDelta: 0.5, Action: model.ActionWithheldForReview,
		},
		{
			ID: "r2", VenueID: "v2", VenueName: "Bar Alto", Provenance: model.ProvenanceCorpusOnly,
			MergedScore: 0.5, MergedConfidence: 0.4, Action: model.ActionDryRun,
		},
	}

	w := NewWriter(st, dir)
	path, err := w.Write(context.Background(), job, results)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lisbon-job-1.xlsx"), path)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	changes := rows(t, f, SheetChanges)
	require.Len(t, changes, 3)
	assert.Equal(t, changesHeader, changes[0])
	assert.Equal(t, "Cafe Lua", changes[1][1])
	assert.Equal(t, "0.300", changes[1][4])
	assert.Equal(t, "0.600", changes[1][5])
	assert.Equal(t, "coffee, hidden-gem", changes[1][9])
	assert.Equal(t, "withheld_for_review", changes[1][11])
	assert.Equal(t, "", changes[2][4], "no prior")

	review := rows(t, f, SheetReview)
	require.Len(t, review, 2)
	assert.Equal(t, "r1", review[1][0])
	assert.Equal(t, "0.900", review[1][6])

	unresolved := rows(t, f, SheetUnresolved)
	require.Len(t, unresolved, 2)
	assert.Equal(t, []string{"Ghost Lounge", "ghost lounge", "1"}, unresolved[1])
}

func TestWriteStoreError(t *testing.T) {
	w := NewWriter(stubStore{err: errors.New("db down")}, t.TempDir())
	_, err := w.Write(context.Background(), &model.ResearchJob{ID: "j", City: "porto"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report: list unresolved")
}
