// Package report writes the per-job XLSX diff report: what each result would
// change on its venue, what waits for review, and which names stayed
// unresolved.
package report

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

// Sheet names.
const (
	SheetChanges    = "changes"
	SheetReview     = "review"
	SheetUnresolved = "unresolved"
)

var (
	changesHeader = []string{
		"Venue ID", "Venue", "Provenance", "Conflict",
		"Prior Score", "Merged Score", "Prior Confidence", "Merged Confidence",
		"Prior Tags", "Merged Tags", "Tag Overlap", "Action",
	}
	reviewHeader = []string{
		"Result ID", "Venue ID", "Venue",
		"Corpus Score", "Corpus Confidence", "Research Score", "Research Confidence",
		"Merged Confidence", "Delta",
	}
	unresolvedHeader = []string{"Raw Name", "Normalized", "Attempts"}
)

// Store is the persistence the writer reads unresolved names from.
type Store interface {
	ListUnresolved(ctx context.Context, city string) ([]model.UnresolvedResearchSignal, error)
}

// Writer produces <dir>/<city>-<job>.xlsx files.
type Writer struct {
	store Store
	dir   string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(st Store, dir string) *Writer {
	if dir == "" {
		dir = "reports"
	}
	return &Writer{store: st, dir: dir}
}

// Path returns where the report for job lands.
func (w *Writer) Path(job *model.ResearchJob) string {
	return filepath.Join(w.dir, job.City+"-"+job.ID+".xlsx")
}

// Write builds the report for job and returns its path.
func (w *Writer) Write(ctx context.Context, job *model.ResearchJob, results []model.CrossReferenceResult) (string, error) {
	unresolved, err := w.store.ListUnresolved(ctx, job.City)
	if err != nil {
		return "", eris.Wrapf(err, "report: list unresolved for %s", job.City)
	}

	f := xlsx.NewFile()
	changes, err := addSheet(f, SheetChanges, changesHeader)
	if err != nil {
		return "", err
	}
	review, err := addSheet(f, SheetReview, reviewHeader)
	if err != nil {
		return "", err
	}
	names, err := addSheet(f, SheetUnresolved, unresolvedHeader)
	if err != nil {
		return "", err
	}

	for i := range results {
		r := &results[i]
		addRow(changes,
			r.VenueID, r.VenueName, string(r.Provenance), strconv.FormatBool(r.Conflict),
			num(r.PriorScore), strconv.FormatFloat(r.MergedScore, 'f', 3, 64),
			num(r.PriorConfidence), strconv.FormatFloat(r.MergedConfidence, 'f', 3, 64),
			strings.Join(r.PriorTags, ", "), strings.Join(r.MergedTags, ", "),
			strconv.FormatFloat(r.TagOverlap, 'f', 3, 64), string(r.Action),
		)
		if r.Action == model.ActionWithheldForReview {
			addRow(review,
				r.ID, r.VenueID, r.VenueName,
				num(r.CorpusScore), num(r.CorpusConfidence),
				num(r.ResearchScore), num(r.ResearchConfidence),
				strconv.FormatFloat(r.MergedConfidence, 'f', 3, 64),
				strconv.FormatFloat(r.ScoreDelta, 'f', 3, 64),
			)
		}
	}

	// The queue is city-wide; the report covers this job's names only.
	count := 0
	for _, u := range unresolved {
		if u.JobID != job.ID {
			continue
		}
		addRow(names, u.RawName, u.NormalizedName, strconv.Itoa(u.Attempts))
		count++
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create %s", w.dir)
	}
	path := w.Path(job)
	if err := f.Save(path); err != nil {
		return "", eris.Wrapf(err, "report: save %s", path)
	}

	zap.L().Info("report: diff written",
		zap.String("city", job.City),
		zap.String("job_id", job.ID),
		zap.String("path", path),
		zap.Int("results", len(results)),
		zap.Int("unresolved", count),
	)
	return path, nil
}

func addSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "report: add sheet %s", name)
	}
	addRow(sheet, header...)
	return sheet, nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func num(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
