package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrStaleStatus is returned when a status compare-and-set loses because
	// the job is no longer in the expected status.
	ErrStaleStatus = eris.New("store: stale job status")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	City         string          `json:"city,omitempty"`
	Status       model.JobStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ResultFilter specifies criteria for listing cross-reference results.
// City is required; results are never listed across cities.
type ResultFilter struct {
	City         string             `json:"city"`
	JobID        string             `json:"job_id,omitempty"`
	ReviewStatus model.ReviewStatus `json:"review_status,omitempty"`
	Limit        int                `json:"limit,omitempty"`
}

// AdmissionState is the governor's view of shared counters, read inside the
// admission transaction.
type AdmissionState struct {
	DailySpendUSD float64
	LastStartedAt *time.Time
	ActiveJobID   string
	Breaker       model.GovernorState
}

// AdmitFunc decides whether a job may start given the current counters.
// A non-nil error refuses admission and aborts the transaction.
type AdmitFunc func(AdmissionState) error

// ResultAction records what the write-back gate did with a result.
type ResultAction struct {
	ResultID     string
	Action       model.WriteAction
	ReviewStatus model.ReviewStatus
}

// Store defines the persistence interface for the fusion engine.
type Store interface {
	// Jobs
	AdmitJob(ctx context.Context, job *model.ResearchJob, daySince time.Time, admit AdmitFunc) error
	GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error)
	AdvanceJob(ctx context.Context, jobID string, from, to model.JobStatus) error
	UpdateJobProgress(ctx context.Context, job *model.ResearchJob) error
	DailySpend(ctx context.Context, since time.Time) (float64, error)

	// Governor
	GetGovernorState(ctx context.Context) (model.GovernorState, error)
	UpdateGovernorState(ctx context.Context, fn func(*model.GovernorState) error) (model.GovernorState, error)

	// Upstream content and venues (read-only for the engine; Import* loads
	// fixtures in place of the owning subsystems)
	ListSourceDocuments(ctx context.Context, city string) ([]model.SourceDocument, error)
	ListVenues(ctx context.Context, city string) ([]model.Venue, error)
	ImportSourceDocuments(ctx context.Context, docs []model.SourceDocument) error
	ImportVenues(ctx context.Context, venues []model.Venue) error

	// Job artefacts
	SaveBundle(ctx context.Context, b *model.Bundle) error
	GetBundle(ctx context.Context, jobID string) (*model.Bundle, error)
	SaveSynthesis(ctx context.Context, s *model.CityResearchSynthesis) error
	GetSynthesis(ctx context.Context, jobID string) (*model.CityResearchSynthesis, error)

	// Signals
	SaveSignals(ctx context.Context, signals []model.VenueResearchSignal) error
	ListSignals(ctx context.Context, jobID string) ([]model.VenueResearchSignal, error)
	SaveResolutions(ctx context.Context, jobID string, resolved []model.Resolution, unresolved []model.UnresolvedResearchSignal) error
	ListUnresolved(ctx context.Context, city string) ([]model.UnresolvedResearchSignal, error)
	UpdateUnresolved(ctx context.Context, city string, resolved []model.Resolution, attempted []string, at time.Time) error

	// Cross-reference results
	SaveResults(ctx context.Context, results []model.CrossReferenceResult) error
	ListResults(ctx context.Context, filter ResultFilter) ([]model.CrossReferenceResult, error)
	GetResult(ctx context.Context, resultID string) (*model.CrossReferenceResult, error)
	RecordResultActions(ctx context.Context, actions []ResultAction) error
	SetReview(ctx context.Context, resultID string, status model.ReviewStatus, reviewer string, at time.Time) error

	// Shared entity write-back, one transaction per call
	ApplyVenueWrites(ctx context.Context, writes []model.VenueWrite) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
