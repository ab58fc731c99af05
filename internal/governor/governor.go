// Package governor decides whether a research job may start and tracks the
// failure breaker. Every admission decision runs inside one store
// transaction so concurrent triggers cannot overspend.
package governor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/store"
)

// Refusal sentinels. Callers test with errors.Is.
var (
	ErrCostCapped     = eris.New("governor: daily spend cap reached")
	ErrCooldownActive = eris.New("governor: city cooldown active")
	ErrCircuitOpen    = eris.New("governor: circuit breaker open")
	ErrUnknownCity    = eris.New("governor: city not in allow-list")
	ErrJobActive      = eris.New("governor: a job is already active for this city")
)

// Reason returns a short label for a refusal, or "" for other errors.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCostCapped):
		return "cost_capped"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown_active"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrUnknownCity):
		return "unknown_city"
	case errors.Is(err, ErrJobActive):
		return "job_active"
	}
	return ""
}

// Store is the persistence the governor needs.
type Store interface {
	AdmitJob(ctx context.Context, job *model.ResearchJob, daySince time.Time, admit store.AdmitFunc) error
	DailySpend(ctx context.Context, since time.Time) (float64, error)
	GetGovernorState(ctx context.Context) (model.GovernorState, error)
	UpdateGovernorState(ctx context.Context, fn func(*model.GovernorState) error) (model.GovernorState, error)
}

// Request is a trigger awaiting admission.
type Request struct {
	City       string
	Reason     model.TriggerReason
	WriteBack  bool
	DiffReport bool
}

// Governor enforces the spend cap, per-city cooldown, city allow-list, and
// the failure breaker.
type Governor struct {
	store Store
	cfg   config.GovernorConfig
	known map[string]bool
	now   func() time.Time
}

// New creates a Governor.
func New(st Store, cfg config.GovernorConfig) *Governor {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	known := make(map[string]bool, len(cfg.KnownCities))
	for _, c := range cfg.KnownCities {
		known[NormalizeCity(c)] = true
	}
	return &Governor{store: st, cfg: cfg, known: known, now: func() time.Time { return time.Now().UTC() }}
}

// NormalizeCity is the canonical city key.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// DayStart returns the UTC midnight at or before t; the spend cap rolls over
// there.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// KnownCity reports whether city is on the allow-list.
func (g *Governor) KnownCity(city string) bool {
	return g.known[NormalizeCity(city)]
}

// Admit atomically checks every admission rule and, when all pass, inserts a
// QUEUED job. Cooldown and the spend cap apply to every trigger; the
// allow-list and the breaker only to non-manual triggers.
func (g *Governor) Admit(ctx context.Context, req Request) (*model.ResearchJob, error) {
	if !req.Reason.Valid() {
		return nil, eris.Errorf("governor: unknown trigger reason %q", req.Reason)
	}
	city := NormalizeCity(req.City)
	if city == "" {
		return nil, eris.New("governor: city is required")
	}
	if !req.Reason.Manual() && !g.KnownCity(city) {
		return nil, eris.Wrapf(ErrUnknownCity, "governor: %s", city)
	}

	now := g.now()
	job := &model.ResearchJob{
		ID:         uuid.NewString(),
		City:       city,
		Reason:     req.Reason,
		WriteBack:  req.WriteBack,
		DiffReport: req.DiffReport,
		Status:     model.JobStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := g.store.AdmitJob(ctx, job, DayStart(now), func(st store.AdmissionState) error {
		return g.decide(req, now, st)
	})
	if err != nil {
		if r := Reason(err); r != "" {
			zap.L().Warn("governor: trigger refused",
				zap.String("city", city),
				zap.String("reason", string(req.Reason)),
				zap.String("refusal", r),
			)
			return nil, err
		}
		return nil, eris.Wrapf(err, "governor: admit %s", city)
	}

	zap.L().Info("governor: job admitted",
		zap.String("city", city),
		zap.String("job_id", job.ID),
		zap.String("reason", string(req.Reason)),
	)
	return job, nil
}

func (g *Governor) decide(req Request, now time.Time, st store.AdmissionState) error {
	if st.ActiveJobID != "" {
		return eris.Wrapf(ErrJobActive, "governor: job %s", st.ActiveJobID)
	}
	if st.Breaker.Tripped && !req.Reason.Manual() {
		return ErrCircuitOpen
	}
	if g.cfg.DailySpendCapUSD > 0 && st.DailySpendUSD >= g.cfg.DailySpendCapUSD {
		return eris.Wrapf(ErrCostCapped, "governor: spent %.2f of %.2f", st.DailySpendUSD, g.cfg.DailySpendCapUSD)
	}
	if g.cfg.CooldownHours > 0 && st.LastStartedAt != nil {
		until := st.LastStartedAt.Add(time.Duration(g.cfg.CooldownHours) * time.Hour)
		if now.Before(until) {
			return eris.Wrapf(ErrCooldownActive, "governor: until %s", until.Format(time.RFC3339))
		}
	}
	return nil
}

// CheckSpend is the mid-job guard: it fails with ErrCostCapped once the
// day's spend, including this job's persisted cost, reaches the cap.
func (g *Governor) CheckSpend(ctx context.Context, job *model.ResearchJob) error {
	if g.cfg.DailySpendCapUSD <= 0 {
		return nil
	}
	since := DayStart(g.now())
	spend, err := g.store.DailySpend(ctx, since)
	if err != nil {
		return eris.Wrap(err, "governor: check spend")
	}
	if job.CreatedAt.Before(since) {
		spend += job.Usage.Cost
	}
	if spend >= g.cfg.DailySpendCapUSD {
		return eris.Wrapf(ErrCostCapped, "governor: job %s reached %.2f of %.2f", job.ID, spend, g.cfg.DailySpendCapUSD)
	}
	return nil
}

// RecordOutcome updates the breaker from a terminal job. COMPLETE resets the
// failure count; ERROR and VALIDATION_FAILED increment it.
func (g *Governor) RecordOutcome(ctx context.Context, job *model.ResearchJob) (model.GovernorState, error) {
	state, err := g.store.UpdateGovernorState(ctx, func(s *model.GovernorState) error {
		switch job.Status {
		case model.JobStatusComplete:
			s.ConsecutiveFailures = 0
		case model.JobStatusError, model.JobStatusValidationFailed:
			s.ConsecutiveFailures++
			if !s.Tripped && s.ConsecutiveFailures >= g.cfg.BreakerThreshold {
				now := g.now()
				s.Tripped = true
				s.TrippedAt = &now
			}
		}
		return nil
	})
	if err != nil {
		return state, eris.Wrap(err, "governor: record outcome")
	}
	if state.Tripped && job.Status != model.JobStatusComplete {
		zap.L().Error("governor: circuit breaker open",
			zap.String("city", job.City),
			zap.String("job_id", job.ID),
			zap.Int("consecutive_failures", state.ConsecutiveFailures),
		)
	}
	return state, nil
}

// ResetBreaker closes the breaker on operator action.
func (g *Governor) ResetBreaker(ctx context.Context, operator string) (model.GovernorState, error) {
	if strings.TrimSpace(operator) == "" {
		return model.GovernorState{}, eris.New("governor: operator is required to reset the breaker")
	}
	state, err := g.store.UpdateGovernorState(ctx, func(s *model.GovernorState) error {
		now := g.now()
		s.Tripped = false
		s.TrippedAt = nil
		s.ConsecutiveFailures = 0
		s.ResetBy = operator
		s.ResetAt = &now
		return nil
	})
	if err != nil {
		return state, eris.Wrap(err, "governor: reset breaker")
	}
	zap.L().Info("governor: breaker reset", zap.String("operator", operator))
	return state, nil
}

// State returns the persisted breaker state.
func (g *Governor) State(ctx context.Context) (model.GovernorState, error) {
	st, err := g.store.GetGovernorState(ctx)
	return st, eris.Wrap(err, "governor: state")
}

// DailySpend returns today's spend since the UTC rollover.
func (g *Governor) DailySpend(ctx context.Context) (float64, error) {
	spend, err := g.store.DailySpend(ctx, DayStart(g.now()))
	return spend, eris.Wrap(err, "governor: daily spend")
}

// Cap returns the configured daily cap.
func (g *Governor) Cap() float64 { return g.cfg.DailySpendCapUSD }
