// Package writeback applies merged results to the shared venue entity. It
// writes only the engine-owned research columns, in small independent
// transactions, and withholds large confidence moves for human review.
package writeback

import (
	"context"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/store"
)

// Store is the persistence the gate needs.
type Store interface {
	ListVenues(ctx context.Context, city string) ([]model.Venue, error)
	ApplyVenueWrites(ctx context.Context, writes []model.VenueWrite) error
	RecordResultActions(ctx context.Context, actions []store.ResultAction) error
}

// Summary counts what Apply did.
type Summary struct {
	DryRun    int `json:"dry_run"`
	Applied   int `json:"applied"`
	Withheld  int `json:"withheld"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Gate is the write-back gate.
type Gate struct {
	store Store
	cfg   config.WriteBackConfig
}

// NewGate creates a Gate.
func NewGate(st Store, cfg config.WriteBackConfig) *Gate {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.DeltaThreshold <= 0 {
		cfg.DeltaThreshold = 0.35
	}
	return &Gate{store: st, cfg: cfg}
}

// Withhold reports whether r moves confidence further from the venue's prior
// than the delta threshold. A venue with no prior is never gated.
func (g *Gate) Withhold(r *model.CrossReferenceResult) bool {
	if r.PriorConfidence == nil {
		return false
	}
	return math.Abs(r.MergedConfidence-*r.PriorConfidence) > g.cfg.DeltaThreshold
}

// Apply records an action for every result. Without job.WriteBack every
// result is recorded as a dry run and no venue column changes. results is
// updated in place with the action taken.
func (g *Gate) Apply(ctx context.Context, job *model.ResearchJob, results []model.CrossReferenceResult) (Summary, error) {
	var sum Summary
	log := zap.L().With(
		zap.String("component", "writeback"),
		zap.String("city", job.City),
		zap.String("job_id", job.ID),
	)

	for i := range results {
		if results[i].City != job.City || results[i].JobID != job.ID {
			return sum, eris.Errorf("writeback: result %s is not scoped to job %s in %s", results[i].ID, job.ID, job.City)
		}
	}

	if !job.WriteBack {
		actions := make([]store.ResultAction, len(results))
		for i := range results {
			results[i].Action = model.ActionDryRun
			actions[i] = store.ResultAction{ResultID: results[i].ID, Action: model.ActionDryRun, ReviewStatus: results[i].ReviewStatus}
		}
		if err := g.store.RecordResultActions(ctx, actions); err != nil {
			return sum, eris.Wrap(err, "writeback: record dry run")
		}
		sum.DryRun = len(results)
		log.Info("writeback: dry run recorded", zap.Int("results", len(results)))
		return sum, nil
	}

	venues, err := g.store.ListVenues(ctx, job.City)
	if err != nil {
		return sum, eris.Wrapf(err, "writeback: list venues for %s", job.City)
	}
	current := make(map[string]model.Venue, len(venues))
	for _, v := range venues {
		current[v.ID] = v
	}

	var settled []store.ResultAction
	var pending []*model.CrossReferenceResult
	for i := range results {
		r := &results[i]
		switch {
		case g.Withhold(r):
			r.Action = model.ActionWithheldForReview
			r.ReviewStatus = model.ReviewPending
			sum.Withheld++
		case Unchanged(current[r.VenueID], r):
			r.Action = model.ActionUnchanged
			sum.Unchanged++
		default:
			pending = append(pending, r)
			continue
		}
		settled = append(settled, store.ResultAction{ResultID: r.ID, Action: r.Action, ReviewStatus: r.ReviewStatus})
	}
	if err := g.store.RecordResultActions(ctx, settled); err != nil {
		return sum, eris.Wrap(err, "writeback: record gated results")
	}

	for start := 0; start < len(pending); start += g.cfg.BatchSize {
		batch := pending[start:min(start+g.cfg.BatchSize, len(pending))]
		action := model.ActionApplied
		if err := g.store.ApplyVenueWrites(ctx, writesFor(batch)); err != nil {
			if ctx.Err() != nil {
				return sum, eris.Wrap(ctx.Err(), "writeback: cancelled")
			}
			log.Error("writeback: batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			action = model.ActionWriteFailed
		}

		actions := make([]store.ResultAction, len(batch))
		for i, r := range batch {
			r.Action = action
			actions[i] = store.ResultAction{ResultID: r.ID, Action: action, ReviewStatus: r.ReviewStatus}
		}
		if err := g.store.RecordResultActions(ctx, actions); err != nil {
			return sum, eris.Wrap(err, "writeback: record batch actions")
		}
		if action == model.ActionApplied {
			sum.Applied += len(batch)
		} else {
			sum.Failed += len(batch)
		}
	}

	log.Info("writeback: applied",
		zap.Int("applied", sum.Applied),
		zap.Int("withheld", sum.Withheld),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// ApplyOne writes a single result regardless of the delta gate. Review
// approval uses it.
func (g *Gate) ApplyOne(ctx context.Context, r *model.CrossReferenceResult) error {
	if err := g.store.ApplyVenueWrites(ctx, writesFor([]*model.CrossReferenceResult{r})); err != nil {
		return eris.Wrapf(err, "writeback: apply result %s", r.ID)
	}
	r.Action = model.ActionApplied
	return eris.Wrap(g.store.RecordResultActions(ctx, []store.ResultAction{{
		ResultID: r.ID, Action: model.ActionApplied, ReviewStatus: r.ReviewStatus,
	}}), "writeback: record approved write")
}

// Unchanged reports whether the venue already carries exactly what r would
// write.
func Unchanged(v model.Venue, r *model.CrossReferenceResult) bool {
	cur, next := v.Research, r.Fields()
	return cur.JobID == next.JobID &&
		floatEq(cur.Confidence, next.Confidence) &&
		floatEq(cur.Score, next.Score) &&
		slices.Equal(cur.Tags, next.Tags) &&
		cur.Conflict == next.Conflict &&
		cur.Provenance == next.Provenance &&
		cur.UpdatedAt != nil && cur.UpdatedAt.Equal(*next.UpdatedAt)
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func writesFor(batch []*model.CrossReferenceResult) []model.VenueWrite {
	out := make([]model.VenueWrite, len(batch))
	for i, r := range batch {
		out[i] = model.VenueWrite{VenueID: r.VenueID, City: r.City, ResultID: r.ID, Fields: r.Fields()}
	}
	return out
}
