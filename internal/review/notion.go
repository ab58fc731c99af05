package review

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/pkg/notion"
)

// NotionExporter pushes pending results into a Notion database so reviewers
// can work from there.
type NotionExporter struct {
	client notion.Client
	dbID   string
}

// NewNotionExporter creates an exporter for the database dbID.
func NewNotionExporter(c notion.Client, dbID string) *NotionExporter {
	return &NotionExporter{client: c, dbID: dbID}
}

// Export creates one page per pending result and returns how many were
// created. Results not pending review are skipped. It stops at the first
// failed page.
func (e *NotionExporter) Export(ctx context.Context, results []model.CrossReferenceResult) (int, error) {
	if e.dbID == "" {
		return 0, eris.New("review: notion database not configured")
	}

	created := 0
	for i := range results {
		r := &results[i]
		if r.ReviewStatus != model.ReviewPending {
			continue
		}
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(e.dbID),
			},
			Properties: pageProperties(r),
		}
		if _, err := e.client.CreatePage(ctx, req); err != nil {
			return created, eris.Wrapf(err, "review: export result %s", r.ID)
		}
		created++
	}

	zap.L().Info("review: exported to notion",
		zap.String("database", e.dbID),
		zap.Int("pages", created),
	)
	return created, nil
}

func pageProperties(r *model.CrossReferenceResult) notionapi.Properties {
	props := notionapi.Properties{
		"Venue":      notion.Title(r.VenueName),
		"City":       notion.Select(r.City),
		"Provenance": notion.Select(string(r.Provenance)),
		"Merged":     notion.Number(r.MergedConfidence),
		"Delta":      notion.Number(r.ScoreDelta),
		"Tags":       notion.Text(strings.Join(r.MergedTags, ", ")),
		"Result ID":  notion.Text(r.ID),
		"Job ID":     notion.Text(r.JobID),
	}
	optional := map[string]*float64{
		"Corpus Score":        r.CorpusScore,
		"Corpus Confidence":   r.CorpusConfidence,
		"Research Score":      r.ResearchScore,
		"Research Confidence": r.ResearchConfidence,
		"Prior Confidence":    r.PriorConfidence,
	}
	for name, v := range optional {
		if v != nil {
			props[name] = notion.Number(*v)
		}
	}
	return props
}
