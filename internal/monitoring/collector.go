package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/governor"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/store"
)

// CityHealth is the per-city resolution picture within the window.
type CityHealth struct {
	Jobs int `json:"jobs"`
	// LatestUnresolvedRatio comes from the newest finished job with signals.
	LatestUnresolvedRatio float64 `json:"latest_unresolved_ratio"`
	// TrailingMeanRatio averages the older finished jobs in the window; zero
	// when there are none.
	TrailingMeanRatio float64 `json:"trailing_mean_ratio"`
	TrailingJobs      int     `json:"trailing_jobs"`
}

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Jobs within the lookback window.
	JobsTotal      int     `json:"jobs_total"`
	JobsComplete   int     `json:"jobs_complete"`
	JobsError      int     `json:"jobs_error"`
	JobsValidation int     `json:"jobs_validation_failed"`
	JobsActive     int     `json:"jobs_active"`
	FailRate       float64 `json:"fail_rate"`
	SpendUSD       float64 `json:"spend_usd"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	MeanUnresolved float64 `json:"mean_unresolved_ratio"`
	Conflicts      int     `json:"conflicts"`
	PendingReview  int     `json:"pending_review"`
	WritesApplied  int     `json:"writes_applied"`
	FailedBatches  int     `json:"failed_batches"`

	Cities map[string]CityHealth `json:"cities"`

	// Governor view, independent of the window.
	DailySpendUSD       float64 `json:"daily_spend_usd"`
	DailyCapUSD         float64 `json:"daily_cap_usd"`
	BreakerTripped      bool    `json:"breaker_tripped"`
	ConsecutiveFailures int     `json:"consecutive_failures"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is the persistence the collector reads.
type Store interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.ResearchJob, error)
	DailySpend(ctx context.Context, since time.Time) (float64, error)
	GetGovernorState(ctx context.Context) (model.GovernorState, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store Store
	cap   float64
	now   func() time.Time
}

// NewCollector creates a new metrics collector. dailyCap is the governor's
// spend cap, reported alongside the day's spend.
func NewCollector(st Store, dailyCap float64) *Collector {
	return &Collector{store: st, cap: dailyCap, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		Cities:        make(map[string]CityHealth),
		DailyCapUSD:   c.cap,
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	jobs, err := c.store.ListJobs(ctx, store.JobFilter{CreatedAfter: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	var ratioSum float64
	var ratioJobs int
	byCity := make(map[string][]model.ResearchJob)

	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusComplete:
			snap.JobsComplete++
		case model.JobStatusError:
			snap.JobsError++
		case model.JobStatusValidationFailed:
			snap.JobsValidation++
		default:
			snap.JobsActive++
		}
		snap.SpendUSD += j.Usage.Cost
		snap.InputTokens += j.Usage.InputTokens
		snap.OutputTokens += j.Usage.OutputTokens
		snap.Conflicts += j.ConflictCount
		snap.PendingReview += j.ReviewCount
		snap.WritesApplied += j.AppliedCount
		snap.FailedBatches += j.FailedBatches

		if j.Status.Terminal() && j.ResolvedCount+j.UnresolvedCount > 0 {
			ratioSum += j.UnresolvedRatio()
			ratioJobs++
			byCity[j.City] = append(byCity[j.City], j)
		}
	}

	if finished := snap.JobsComplete + snap.JobsError + snap.JobsValidation; finished > 0 {
		snap.FailRate = float64(snap.JobsError+snap.JobsValidation) / float64(finished)
	}
	if ratioJobs > 0 {
		snap.MeanUnresolved = ratioSum / float64(ratioJobs)
	}
	for city, cj := range byCity {
		snap.Cities[city] = cityHealth(cj)
	}

	spend, err := c.store.DailySpend(ctx, governor.DayStart(now))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: daily spend")
	}
	snap.DailySpendUSD = spend

	state, err := c.store.GetGovernorState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: governor state")
	}
	snap.BreakerTripped = state.Tripped
	snap.ConsecutiveFailures = state.ConsecutiveFailures

	return snap, nil
}

func cityHealth(jobs []model.ResearchJob) CityHealth {
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	h := CityHealth{Jobs: len(jobs), LatestUnresolvedRatio: jobs[0].UnresolvedRatio()}
	var sum float64
	for _, j := range jobs[1:] {
		sum += j.UnresolvedRatio()
	}
	if h.TrailingJobs = len(jobs) - 1; h.TrailingJobs > 0 {
		h.TrailingMeanRatio = sum / float64(h.TrailingJobs)
	}
	return h
}
