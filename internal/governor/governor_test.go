package governor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var noon = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "gov.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestGovernor(t *testing.T, cfg config.GovernorConfig) (*Governor, store.Store, *time.Time) {
	t.Helper()
	st := newTestStore(t)
	g := New(st, cfg)
	clock := noon
	g.now = func() time.Time { return clock }
	return g, st, &clock
}

func baseConfig() config.GovernorConfig {
	return config.GovernorConfig{
		DailySpendCapUSD: 10,
		CooldownHours:    20,
		KnownCities:      []string{"Lisbon", "porto"},
		BreakerThreshold: 2,
	}
}

func finish(t *testing.T, st store.Store, job *model.ResearchJob, cost float64) {
	t.Helper()
	ctx := context.Background()
	job.Usage.Cost = cost
	require.NoError(t, st.UpdateJobProgress(ctx, job))
	require.NoError(t, st.AdvanceJob(ctx, job.ID, model.JobStatusQueued, model.JobStatusValidationFailed))
}

func TestAdmit_AllowList(t *testing.T) {
	g, _, _ := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	_, err := g.Admit(ctx, Request{City: "madrid", Reason: model.TriggerScheduledRefresh})
	assert.ErrorIs(t, err, ErrUnknownCity)

	job, err := g.Admit(ctx, Request{City: "madrid", Reason: model.TriggerManualSeed})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	job, err = g.Admit(ctx, Request{City: " LISBON ", Reason: model.TriggerOnDemandGapFill, WriteBack: true})
	require.NoError(t, err)
	assert.Equal(t, "lisbon", job.City)
	assert.True(t, job.WriteBack)

	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: "cron"})
	assert.Error(t, err)
}

func TestAdmit_OneActiveJobPerCity(t *testing.T) {
	g, _, _ := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	_, err := g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	require.NoError(t, err)

	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	assert.ErrorIs(t, err, ErrJobActive)

	_, err = g.Admit(ctx, Request{City: "porto", Reason: model.TriggerManualSeed})
	assert.NoError(t, err)
}

func TestAdmit_ConcurrentTriggersAdmitOne(t *testing.T) {
	g, _, _ := newTestGovernor(t, baseConfig())

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Admit(context.Background(), Request{City: "lisbon", Reason: model.TriggerManualSeed}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestAdmit_Cooldown(t *testing.T) {
	g, st, clock := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	job, err := g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	require.NoError(t, err)
	finish(t, st, job, 1)

	*clock = noon.Add(time.Hour)
	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	assert.ErrorIs(t, err, ErrCooldownActive, "cooldown applies to manual triggers too")

	*clock = noon.Add(21 * time.Hour)
	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerScheduledRefresh})
	assert.NoError(t, err)
}

func TestAdmit_CooldownIgnoresErroredJobs(t *testing.T) {
	g, st, clock := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	job, err := g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	require.NoError(t, err)
	require.NoError(t, st.AdvanceJob(ctx, job.ID, model.JobStatusQueued, model.JobStatusError))

	*clock = noon.Add(time.Minute)
	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	assert.NoError(t, err)
}

func TestAdmit_SpendCapUntilRollover(t *testing.T) {
	g, st, clock := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	job, err := g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	require.NoError(t, err)
	finish(t, st, job, 10)

	*clock = noon.Add(11 * time.Hour)
	_, err = g.Admit(ctx, Request{City: "porto", Reason: model.TriggerManualSeed})
	assert.ErrorIs(t, err, ErrCostCapped)

	*clock = time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	_, err = g.Admit(ctx, Request{City: "porto", Reason: model.TriggerManualSeed})
	assert.NoError(t, err)
}

func TestBreaker(t *testing.T) {
	g, _, _ := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	failed := &model.ResearchJob{ID: "x", City: "lisbon", Status: model.JobStatusError}
	st, err := g.RecordOutcome(ctx, failed)
	require.NoError(t, err)
	assert.False(t, st.Tripped)

	st, err = g.RecordOutcome(ctx, &model.ResearchJob{ID: "y", City: "porto", Status: model.JobStatusValidationFailed})
	require.NoError(t, err)
	assert.True(t, st.Tripped)
	require.NotNil(t, st.TrippedAt)

	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerScheduledRefresh})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	_, err = g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	require.NoError(t, err, "manual triggers bypass the breaker")

	_, err = g.ResetBreaker(ctx, "")
	assert.Error(t, err)

	st, err = g.ResetBreaker(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.False(t, st.Tripped)
	assert.Equal(t, "ops@example.com", st.ResetBy)
	assert.Zero(t, st.ConsecutiveFailures)

	_, err = g.Admit(ctx, Request{City: "porto", Reason: model.TriggerScheduledRefresh})
	assert.NoError(t, err)
}

func TestRecordOutcome_CompleteResetsCount(t *testing.T) {
	g, _, _ := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	_, err := g.RecordOutcome(ctx, &model.ResearchJob{Status: model.JobStatusError})
	require.NoError(t, err)
	st, err := g.RecordOutcome(ctx, &model.ResearchJob{Status: model.JobStatusComplete})
	require.NoError(t, err)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.Tripped)
}

func TestCheckSpend(t *testing.T) {
	g, st, _ := newTestGovernor(t, baseConfig())
	ctx := context.Background()

	other, err := g.Admit(ctx, Request{City: "porto", Reason: model.TriggerManualSeed})
	require.NoError(t, err)
	finish(t, st, other, 3)

	job, err := g.Admit(ctx, Request{City: "lisbon", Reason: model.TriggerManualSeed})
	require.NoError(t, err)
	job.Usage.Cost = 6
	require.NoError(t, st.UpdateJobProgress(ctx, job))
	assert.NoError(t, g.CheckSpend(ctx, job))

	job.Usage.Cost = 7.5
	require.NoError(t, st.UpdateJobProgress(ctx, job))
	assert.ErrorIs(t, g.CheckSpend(ctx, job), ErrCostCapped)

	spend, err := g.DailySpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.5, spend, 1e-9)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "cost_capped", Reason(ErrCostCapped))
	assert.Equal(t, "cooldown_active", Reason(errors.Join(errors.New("x"), ErrCooldownActive)))
	assert.Equal(t, "", Reason(errors.New("boom")))
}

func TestDayStart(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	got := DayStart(time.Date(2026, 3, 1, 22, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), got)
}
