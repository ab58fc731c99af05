package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/venue-fusion/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newJob(city string) *model.ResearchJob {
	now := time.Now().UTC()
	return &model.ResearchJob{
		ID:           uuid.New().String(),
		City:         city,
		Reason:       model.TriggerManualSeed,
		Status:       model.JobStatusQueued,
		ModelVersion: "test-model",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func admitAll(AdmissionState) error { return nil }

func mustAdmit(t *testing.T, s Store, city string) *model.ResearchJob {
	t.Helper()
	job := newJob(city)
	require.NoError(t, s.AdmitJob(context.Background(), job, time.Now().UTC().Add(-time.Hour), admitAll))
	return job
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("AdmitAndGetJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := mustAdmit(t, s, "lisbon")
		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "lisbon", got.City)
		assert.Equal(t, model.JobStatusQueued, got.Status)
		assert.Equal(t, model.TriggerManualSeed, got.Reason)
		assert.Equal(t, "test-model", got.ModelVersion)
	})

	t.Run("AdmitSeesCounters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := mustAdmit(t, s, "lisbon")
		first.Usage.Cost = 4.5
		require.NoError(t, s.UpdateJobProgress(ctx, first))

		var seen AdmissionState
		second := newJob("lisbon")
		err := s.AdmitJob(ctx, second, time.Now().UTC().Add(-time.Hour), func(st AdmissionState) error {
			seen = st
			return errors.New("refused")
		})
		require.Error(t, err)
		assert.InDelta(t, 4.5, seen.DailySpendUSD, 1e-9)
		assert.Equal(t, first.ID, seen.ActiveJobID)
		require.NotNil(t, seen.LastStartedAt)

		_, err = s.GetJob(ctx, second.ID)
		assert.True(t, errors.Is(err, ErrNotFound), "refused job must not be inserted")
	})

	t.Run("AdmitScopesActiveJobByCity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mustAdmit(t, s, "lisbon")
		var seen AdmissionState
		err := s.AdmitJob(ctx, newJob("porto"), time.Now().UTC().Add(-time.Hour), func(st AdmissionState) error {
			seen = st
			return nil
		})
		require.NoError(t, err)
		assert.Empty(t, seen.ActiveJobID)
		assert.Nil(t, seen.LastStartedAt)
	})

	t.Run("AdvanceJobForwardOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := mustAdmit(t, s, "lisbon")

		require.NoError(t, s.AdvanceJob(ctx, job.ID, model.JobStatusQueued, model.JobStatusAssemblingBundle))
		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusAssemblingBundle, got.Status)
		assert.Equal(t, model.JobStatusQueued, got.LastCompletedStep)

		err = s.AdvanceJob(ctx, job.ID, model.JobStatusAssemblingBundle, model.JobStatusQueued)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "illegal transition")

		err = s.AdvanceJob(ctx, job.ID, model.JobStatusQueued, model.JobStatusAssemblingBundle)
		assert.True(t, errors.Is(err, ErrStaleStatus))

		require.NoError(t, s.AdvanceJob(ctx, job.ID, model.JobStatusAssemblingBundle, model.JobStatusError))
		got, err = s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusError, got.Status)
		assert.Equal(t, model.JobStatusQueued, got.LastCompletedStep)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("AdvanceJobNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.AdvanceJob(context.Background(), "missing", model.JobStatusQueued, model.JobStatusAssemblingBundle)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("UpdateJobProgressAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := mustAdmit(t, s, "lisbon")
		mustAdmit(t, s, "porto")

		job.ResolvedCount = 9
		job.UnresolvedCount = 1
		job.Usage = model.TokenUsage{InputTokens: 1200, OutputTokens: 300, Cost: 0.25}
		job.AddWarning("over_confidence", model.SeverityWarning, "too confident")
		require.NoError(t, s.UpdateJobProgress(ctx, job))

		jobs, err := s.ListJobs(ctx, JobFilter{City: "lisbon"})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, 9, jobs[0].ResolvedCount)
		assert.Equal(t, 1200, jobs[0].Usage.InputTokens)
		require.Len(t, jobs[0].Warnings, 1)
		assert.Equal(t, "over_confidence", jobs[0].Warnings[0].Code)

		all, err := s.ListJobs(ctx, JobFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		spend, err := s.DailySpend(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.InDelta(t, 0.25, spend, 1e-9)

		spend, err = s.DailySpend(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, spend)
	})

	t.Run("GovernorState", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		st, err := s.GetGovernorState(ctx)
		require.NoError(t, err)
		assert.False(t, st.Tripped)

		now := time.Now().UTC()
		st, err = s.UpdateGovernorState(ctx, func(g *model.GovernorState) error {
			g.ConsecutiveFailures = 3
			g.Tripped = true
			g.TrippedAt = &now
			return nil
		})
		require.NoError(t, err)
		assert.True(t, st.Tripped)

		got, err := s.GetGovernorState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, got.ConsecutiveFailures)
		require.NotNil(t, got.TrippedAt)
		assert.WithinDuration(t, now, *got.TrippedAt, time.Millisecond)

		_, err = s.UpdateGovernorState(ctx, func(*model.GovernorState) error { return errors.New("no") })
		require.Error(t, err)
	})

	t.Run("VenueWritesAreCityScoped", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		scored := time.Now().UTC()
		require.NoError(t, s.ImportVenues(ctx, []model.Venue{
			{ID: "v-lis", City: "lisbon", Name: "Time Out Market", CorpusScore: model.Float64(0.9),
				CorpusTags: []string{"food-hall"}, CorpusSourceCount: 4, CorpusScoredAt: &scored},
			{ID: "v-por", City: "porto", Name: "Time Out Market", CorpusScore: model.Float64(0.4)},
		}))

		updated := time.Now().UTC()
		write := model.VenueWrite{
			VenueID: "v-lis",
			City:    "lisbon",
			Fields: model.ResearchFields{
				Confidence: model.Float64(0.7), Score: model.Float64(0.8), Tags: []string{"food-hall"},
				Provenance: model.ProvenanceBothAgree, JobID: "job-1", UpdatedAt: &updated,
			},
		}
		require.NoError(t, s.ApplyVenueWrites(ctx, []model.VenueWrite{write}))

		lis, err := s.ListVenues(ctx, "lisbon")
		require.NoError(t, err)
		require.Len(t, lis, 1)
		assert.InDelta(t, 0.7, *lis[0].Research.Confidence, 1e-9)
		assert.InDelta(t, 0.9, *lis[0].CorpusScore, 1e-9, "corpus columns untouched")
		assert.Equal(t, []string{"food-hall"}, lis[0].Research.Tags)

		por, err := s.ListVenues(ctx, "porto")
		require.NoError(t, err)
		require.Len(t, por, 1)
		assert.Nil(t, por[0].Research.Confidence)

		wrongCity := write
		wrongCity.City = "porto"
		err = s.ApplyVenueWrites(ctx, []model.VenueWrite{wrongCity})
		assert.True(t, errors.Is(err, ErrNotFound))

		// Re-import keeps research columns.
		require.NoError(t, s.ImportVenues(ctx, []model.Venue{{ID: "v-lis", City: "lisbon", Name: "Time Out Market"}}))
		lis, err = s.ListVenues(ctx, "lisbon")
		require.NoError(t, err)
		require.NotNil(t, lis[0].Research.Confidence)
	})

	t.Run("VenueWriteBatchIsAtomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.ImportVenues(ctx, []model.Venue{{ID: "v1", City: "lisbon", Name: "A"}}))

		err := s.ApplyVenueWrites(ctx, []model.VenueWrite{
			{VenueID: "v1", City: "lisbon", Fields: model.ResearchFields{Score: model.Float64(0.3)}},
			{VenueID: "missing", City: "lisbon", Fields: model.ResearchFields{Score: model.Float64(0.3)}},
		})
		require.Error(t, err)

		venues, err := s.ListVenues(ctx, "lisbon")
		require.NoError(t, err)
		assert.Nil(t, venues[0].Research.Score)
	})

	t.Run("SourceDocuments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.ImportSourceDocuments(ctx, []model.SourceDocument{
			{ID: "d1", City: "lisbon", SourceType: "forum", Text: "Try the pastries", Engagement: 12},
			{ID: "d2", City: "porto", SourceType: "blog", Text: "Port cellars"},
		}))
		docs, err := s.ListSourceDocuments(ctx, "lisbon")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Try the pastries", docs[0].Text)
	})

	t.Run("BundleAndSynthesis", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := mustAdmit(t, s, "lisbon")

		_, err := s.GetBundle(ctx, job.ID)
		assert.True(t, errors.Is(err, ErrNotFound))

		require.NoError(t, s.SaveBundle(ctx, &model.Bundle{
			JobID: job.ID, City: "lisbon", TotalTokens: 42,
			AmplificationSuspect: []string{"Pasteis de Belem"},
		}))
		b, err := s.GetBundle(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 42, b.TotalTokens)
		assert.True(t, b.IsAmplified("Pasteis de Belem"))

		require.NoError(t, s.SaveSynthesis(ctx, &model.CityResearchSynthesis{
			JobID: job.ID, City: "lisbon", Summary: "hilly",
			Divergences: []model.Divergence{{Topic: "tram 28", BundleClaim: "crowded", PriorBelief: "quiet"}},
		}))
		syn, err := s.GetSynthesis(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "hilly", syn.Summary)
		assert.Len(t, syn.Divergences, 1)
	})

	t.Run("SignalsResolutionAndRetryQueue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := mustAdmit(t, s, "lisbon")

		sigs := []model.VenueResearchSignal{
			{ID: "s1", JobID: job.ID, City: "lisbon", RawName: "Cafe A", Tags: []string{"cozy"},
				Touristiness: 0.2, Confidence: 0.6, KnowledgeSource: model.KnowledgeBundle},
			{ID: "s2", JobID: job.ID, City: "lisbon", BatchIndex: 1, RawName: "Mystery Bar",
				Touristiness: 0.5, Confidence: 0.5, KnowledgeSource: model.KnowledgePrior},
		}
		require.NoError(t, s.SaveSignals(ctx, sigs))
		// Saving the same batch again is harmless.
		require.NoError(t, s.SaveSignals(ctx, sigs[:1]))

		got, err := s.ListSignals(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.ResolutionPending, got[0].ResolutionStatus)

		now := time.Now().UTC()
		require.NoError(t, s.SaveResolutions(ctx, job.ID,
			[]model.Resolution{{SignalID: "s1", VenueID: "v1", Method: model.MethodExact, Confidence: 1}},
			[]model.UnresolvedResearchSignal{{City: "lisbon", JobID: job.ID, SignalID: "s2",
				RawName: "Mystery Bar", NormalizedName: "mystery bar", Attempts: 1, LastAttemptAt: now}},
		))

		got, err = s.ListSignals(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ResolutionResolved, got[0].ResolutionStatus)
		assert.Equal(t, "v1", got[0].VenueID)
		assert.Equal(t, model.ResolutionUnresolved, got[1].ResolutionStatus)

		queue, err := s.ListUnresolved(ctx, "lisbon")
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Equal(t, "s2", queue[0].SignalID)

		other, err := s.ListUnresolved(ctx, "porto")
		require.NoError(t, err)
		assert.Empty(t, other)

		require.NoError(t, s.UpdateUnresolved(ctx, "lisbon",
			[]model.Resolution{{SignalID: "s2", VenueID: "v9", Method: model.MethodTrigram, Confidence: 0.8}},
			nil, now))
		queue, err = s.ListUnresolved(ctx, "lisbon")
		require.NoError(t, err)
		assert.Empty(t, queue)

		got, err = s.ListSignals(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "v9", got[1].VenueID)
		assert.Equal(t, model.MethodTrigram, got[1].ResolutionMethod)
	})

	t.Run("ResultsUpsertKeepsActions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := mustAdmit(t, s, "lisbon")

		r := model.CrossReferenceResult{
			ID: "r1", VenueID: "v1", VenueName: "Cafe A", JobID: job.ID, City: "lisbon",
			Provenance: model.ProvenanceBothAgree, MergedScore: 0.4, MergedConfidence: 0.6,
			MergedTags: []string{"cozy"}, CorpusScore: model.Float64(0.4), ComputedAt: time.Now().UTC(),
		}
		require.NoError(t, s.SaveResults(ctx, []model.CrossReferenceResult{r}))
		require.NoError(t, s.RecordResultActions(ctx, []ResultAction{
			{ResultID: "r1", Action: model.ActionWithheldForReview, ReviewStatus: model.ReviewPending},
		}))

		r.ID = "r1-dup"
		r.MergedScore = 0.45
		require.NoError(t, s.SaveResults(ctx, []model.CrossReferenceResult{r}))

		results, err := s.ListResults(ctx, ResultFilter{City: "lisbon", JobID: job.ID})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "r1", results[0].ID)
		assert.InDelta(t, 0.45, results[0].MergedScore, 1e-9)
		assert.Equal(t, model.ActionWithheldForReview, results[0].Action)
		assert.Nil(t, results[0].ResearchScore)

		pending, err := s.ListResults(ctx, ResultFilter{City: "lisbon", ReviewStatus: model.ReviewPending})
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		none, err := s.ListResults(ctx, ResultFilter{City: "porto"})
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = s.ListResults(ctx, ResultFilter{})
		require.Error(t, err)

		require.NoError(t, s.SetReview(ctx, "r1", model.ReviewApproved, "ops@example.com", time.Now().UTC()))
		got, err := s.GetResult(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, model.ReviewApproved, got.ReviewStatus)
		assert.Equal(t, "ops@example.com", got.Reviewer)

		_, err = s.GetResult(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.SetReview(ctx, "missing", model.ReviewRejected, "x", time.Now()), ErrNotFound))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/fusion.db")
	assert.True(t, strings.HasPrefix(dsn, "/tmp/fusion.db?_pragma=busy_timeout(5000)&"))
	assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
	assert.Contains(t, dsn, "_txlock=immediate")

	withQuery := sqliteDSN("file:fusion.db?mode=rwc")
	assert.True(t, strings.HasPrefix(withQuery, "file:fusion.db?mode=rwc&_pragma="))
}

func TestSQLiteStore_ConcurrentCityWriters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var g errgroup.Group
	for _, city := range []string{"lisbon", "porto", "braga", "faro"} {
		g.Go(func() error {
			for i := 0; i < 10; i++ {
				job := newJob(city)
				if err := s.AdmitJob(ctx, job, time.Now().UTC().Add(-time.Hour), admitAll); err != nil {
					return err
				}
				venueID := fmt.Sprintf("%s-%d", city, i)
				if err := s.ImportVenues(ctx, []model.Venue{{ID: venueID, City: city, Name: "Majestic Café"}}); err != nil {
					return err
				}
				job.ResolvedCount = i
				if err := s.UpdateJobProgress(ctx, job); err != nil {
					return err
				}
				if err := s.AdvanceJob(ctx, job.ID, model.JobStatusQueued, model.JobStatusError); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	jobs, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 40)
}
