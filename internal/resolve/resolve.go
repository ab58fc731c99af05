// Package resolve maps raw generated venue names to canonical venues within
// one city: an exact tier, then a normalized trigram tier.
package resolve

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
)

// tieMargin is the similarity gap under which two candidates are ambiguous.
const tieMargin = 0.02

// Store is the persistence the resolver needs.
type Store interface {
	ListVenues(ctx context.Context, city string) ([]model.Venue, error)
	ListUnresolved(ctx context.Context, city string) ([]model.UnresolvedResearchSignal, error)
	UpdateUnresolved(ctx context.Context, city string, resolved []model.Resolution, attempted []string, at time.Time) error
}

// Result splits a job's signals by resolution outcome.
type Result struct {
	Resolved   []model.Resolution
	Unresolved []model.UnresolvedResearchSignal
}

// Ratio returns the unresolved share.
func (r *Result) Ratio() float64 {
	total := len(r.Resolved) + len(r.Unresolved)
	if total == 0 {
		return 0
	}
	return float64(len(r.Unresolved)) / float64(total)
}

// Resolver resolves signals against one city's venues.
type Resolver struct {
	store Store
	cfg   config.ResolveConfig
	now   func() time.Time
}

// New creates a Resolver.
func New(st Store, cfg config.ResolveConfig) *Resolver {
	if cfg.TrigramThreshold <= 0 {
		cfg.TrigramThreshold = 0.7
	}
	if cfg.ContainmentFloor <= 0 {
		cfg.ContainmentFloor = 0.4
	}
	return &Resolver{store: st, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Resolve matches every signal against the venues of city. A signal scoped
// to another city is an error.
func (r *Resolver) Resolve(ctx context.Context, city string, signals []model.VenueResearchSignal) (*Result, error) {
	venues, err := r.store.ListVenues(ctx, city)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: list venues for %s", city)
	}
	ix := NewIndex(venues, r.cfg)
	now := r.now()

	res := &Result{}
	for _, s := range signals {
		if s.City != city {
			return nil, eris.Errorf("resolve: signal %s belongs to %s, not %s", s.ID, s.City, city)
		}
		if m, ok := ix.Match(s.RawName); ok {
			m.SignalID = s.ID
			res.Resolved = append(res.Resolved, m)
			continue
		}
		res.Unresolved = append(res.Unresolved, model.UnresolvedResearchSignal{
			ID:             uuid.NewString(),
			City:           city,
			JobID:          s.JobID,
			SignalID:       s.ID,
			RawName:        s.RawName,
			NormalizedName: Normalize(s.RawName),
			Attempts:       1,
			LastAttemptAt:  now,
		})
	}

	zap.L().Info("resolve: signals resolved",
		zap.String("city", city),
		zap.Int("resolved", len(res.Resolved)),
		zap.Int("unresolved", len(res.Unresolved)),
		zap.Int("venues", len(venues)),
	)
	return res, nil
}

// Retried is a queued signal that resolved on retry.
type Retried struct {
	model.Resolution
	JobID string
}

// RetryUnresolved re-resolves the city's queued signals against its current
// venues and persists the outcome. It returns the new resolutions with their
// originating job so the caller can score them.
func (r *Resolver) RetryUnresolved(ctx context.Context, city string) ([]Retried, error) {
	queued, err := r.store.ListUnresolved(ctx, city)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: list unresolved for %s", city)
	}
	if len(queued) == 0 {
		return nil, nil
	}
	venues, err := r.store.ListVenues(ctx, city)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: list venues for %s", city)
	}
	ix := NewIndex(venues, r.cfg)

	var resolved []model.Resolution
	var retried []Retried
	var attempted []string
	for _, u := range queued {
		if m, ok := ix.Match(u.RawName); ok {
			m.SignalID = u.SignalID
			resolved = append(resolved, m)
			retried = append(retried, Retried{Resolution: m, JobID: u.JobID})
			continue
		}
		attempted = append(attempted, u.SignalID)
	}

	if err := r.store.UpdateUnresolved(ctx, city, resolved, attempted, r.now()); err != nil {
		return nil, eris.Wrapf(err, "resolve: update unresolved for %s", city)
	}
	zap.L().Info("resolve: retried unresolved signals",
		zap.String("city", city),
		zap.Int("queued", len(queued)),
		zap.Int("resolved", len(resolved)),
	)
	return retried, nil
}

type entry struct {
	id         string
	normalized string
}

// Index is a precomputed lookup over one city's venues.
type Index struct {
	cfg   config.ResolveConfig
	exact map[string][]string
	all   []entry
}

// NewIndex builds an Index. Venues are expected to belong to one city.
func NewIndex(venues []model.Venue, cfg config.ResolveConfig) *Index {
	ix := &Index{cfg: cfg, exact: make(map[string][]string, len(venues))}
	for _, v := range venues {
		key := ExactKey(v.Name)
		ix.exact[key] = append(ix.exact[key], v.ID)
		ix.all = append(ix.all, entry{id: v.ID, normalized: Normalize(v.Name)})
	}
	sort.Slice(ix.all, func(i, j int) bool { return ix.all[i].id < ix.all[j].id })
	return ix
}

// Match resolves one raw name. Ambiguous names do not match.
func (ix *Index) Match(raw string) (model.Resolution, bool) {
	switch ids := ix.exact[ExactKey(raw)]; {
	case len(ids) == 1:
		return model.Resolution{VenueID: ids[0], Method: model.MethodExact, Confidence: 1}, true
	case len(ids) > 1:
		return model.Resolution{}, false
	}

	name := Normalize(raw)
	if name == "" {
		return model.Resolution{}, false
	}

	type scored struct {
		id  string
		sim float64
	}
	var accepted []scored
	for _, e := range ix.all {
		sim := 1.0
		if e.normalized != name {
			sim = Similarity(name, e.normalized)
		}
		if sim >= ix.cfg.TrigramThreshold || (sim >= ix.cfg.ContainmentFloor && contains(name, e.normalized)) {
			accepted = append(accepted, scored{id: e.id, sim: sim})
		}
	}
	if len(accepted) == 0 {
		return model.Resolution{}, false
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].sim > accepted[j].sim })
	if len(accepted) > 1 && accepted[0].sim-accepted[1].sim < tieMargin {
		return model.Resolution{}, false
	}
	return model.Resolution{VenueID: accepted[0].id, Method: model.MethodTrigram, Confidence: accepted[0].sim}, true
}
