package xref

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

// Store is the persistence the scorer needs.
type Store interface {
	ListSignals(ctx context.Context, jobID string) ([]model.VenueResearchSignal, error)
	ListVenues(ctx context.Context, city string) ([]model.Venue, error)
	SaveResults(ctx context.Context, results []model.CrossReferenceResult) error
}

// Scorer scores and persists a job's cross-reference results.
type Scorer struct {
	store  Store
	params Params
	now    func() time.Time
}

// NewScorer creates a Scorer.
func NewScorer(st Store, p Params) *Scorer {
	return &Scorer{store: st, params: p, now: func() time.Time { return time.Now().UTC() }}
}

// Params returns the scorer's constants.
func (s *Scorer) Params() Params { return s.params }

// Run scores every venue of the job's city that has a resolved research
// signal or a corpus score, and upserts the results by (venue, job).
// Unresolved signals never reach here.
func (s *Scorer) Run(ctx context.Context, job *model.ResearchJob) ([]model.CrossReferenceResult, error) {
	return s.score(ctx, job.ID, job.City, nil)
}

// Rescore scores only venueIDs for an earlier job, used when queued signals
// resolve later.
func (s *Scorer) Rescore(ctx context.Context, jobID, city string, venueIDs []string) ([]model.CrossReferenceResult, error) {
	only := make(map[string]bool, len(venueIDs))
	for _, id := range venueIDs {
		only[id] = true
	}
	return s.score(ctx, jobID, city, only)
}

func (s *Scorer) score(ctx context.Context, jobID, city string, only map[string]bool) ([]model.CrossReferenceResult, error) {
	signals, err := s.store.ListSignals(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "xref: list signals for job %s", jobID)
	}
	venues, err := s.store.ListVenues(ctx, city)
	if err != nil {
		return nil, eris.Wrapf(err, "xref: list venues for %s", city)
	}

	best := bestSignals(signals, city)
	now := s.now()

	var results []model.CrossReferenceResult
	for _, v := range venues {
		if v.City != city {
			return nil, eris.Errorf("xref: venue %s belongs to %s, not %s", v.ID, v.City, city)
		}
		if only != nil && !only[v.ID] {
			continue
		}
		var research *Signal
		if sig, ok := best[v.ID]; ok {
			research = ResearchSignal(sig)
		}
		r, ok := Score(v, research, s.params, now)
		if !ok {
			continue
		}
		r.JobID = jobID
		r.ID = ResultID(jobID, v.ID)
		results = append(results, r)
	}

	if err := s.store.SaveResults(ctx, results); err != nil {
		return nil, eris.Wrapf(err, "xref: save results for job %s", jobID)
	}

	var conflicts int
	for _, r := range results {
		if r.Conflict {
			conflicts++
		}
	}
	zap.L().Info("xref: results scored",
		zap.String("city", city),
		zap.String("job_id", jobID),
		zap.Int("results", len(results)),
		zap.Int("research_signals", len(best)),
		zap.Int("conflicts", conflicts),
	)
	return results, nil
}

// bestSignals keeps one resolved signal per venue: highest confidence, ties
// by signal id.
func bestSignals(signals []model.VenueResearchSignal, city string) map[string]model.VenueResearchSignal {
	best := make(map[string]model.VenueResearchSignal)
	for _, sig := range signals {
		if sig.ResolutionStatus != model.ResolutionResolved || sig.VenueID == "" || sig.City != city {
			continue
		}
		cur, ok := best[sig.VenueID]
		if !ok || sig.Confidence > cur.Confidence || (sig.Confidence == cur.Confidence && sig.ID < cur.ID) {
			best[sig.VenueID] = sig
		}
	}
	return best
}
