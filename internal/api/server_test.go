package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/bundle"
	"github.com/sells-group/venue-fusion/internal/governor"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/monitoring"
	"github.com/sells-group/venue-fusion/internal/research"
	"github.com/sells-group/venue-fusion/internal/review"
	"github.com/sells-group/venue-fusion/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRunner struct {
	got       research.TriggerRequest
	triggerFn func(research.TriggerRequest) (*research.Outcome, error)
	resumeErr error
}

func (f *fakeRunner) Trigger(_ context.Context, req research.TriggerRequest) (*research.Outcome, error) {
	f.got = req
	return f.triggerFn(req)
}

func (f *fakeRunner) Resume(_ context.Context, id string) (*research.Outcome, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return &research.Outcome{Job: &model.ResearchJob{ID: id, Status: model.JobStatusComplete}}, nil
}

type fakeStore struct {
	jobs      map[string]*model.ResearchJob
	results   []model.CrossReferenceResult
	filter    store.JobFilter
	resFilter store.ResultFilter
	pingErr   error
}

func (f *fakeStore) ListJobs(_ context.Context, filter store.JobFilter) ([]model.ResearchJob, error) {
	f.filter = filter
	var out []model.ResearchJob
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*model.ResearchJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "sqlite: get job %s", id)
	}
	return j, nil
}

func (f *fakeStore) ListResults(_ context.Context, filter store.ResultFilter) ([]model.CrossReferenceResult, error) {
	f.resFilter = filter
	return f.results, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeReview struct {
	reviewer string
	err      error
}

func (f *fakeReview) List(_ context.Context, city string, _ int) ([]model.CrossReferenceResult, error) {
	return []model.CrossReferenceResult{{ID: "r1", City: city, ReviewStatus: model.ReviewPending}}, nil
}

func (f *fakeReview) Approve(_ context.Context, id, reviewer string) (*model.CrossReferenceResult, error) {
	f.reviewer = reviewer
	if f.err != nil {
		return nil, f.err
	}
	return &model.CrossReferenceResult{ID: id, ReviewStatus: model.ReviewApproved, Reviewer: reviewer}, nil
}

func (f *fakeReview) Reject(_ context.Context, id, reviewer string) (*model.CrossReferenceResult, error) {
	f.reviewer = reviewer
	return &model.CrossReferenceResult{ID: id, ReviewStatus: model.ReviewRejected, Reviewer: reviewer}, f.err
}

type fakeBreaker struct {
	state    model.GovernorState
	operator string
}

func (f *fakeBreaker) State(context.Context) (model.GovernorState, error) { return f.state, nil }
func (f *fakeBreaker) ResetBreaker(_ context.Context, operator string) (model.GovernorState, error) {
	f.operator = operator
	f.state = model.GovernorState{ResetBy: operator}
	return f.state, nil
}
func (f *fakeBreaker) DailySpend(context.Context) (float64, error) { return 4.5, nil }
func (f *fakeBreaker) Cap() float64                                { return 25 }

type fakeMonitor struct{ hours int }

func (f *fakeMonitor) Collect(_ context.Context, hours int) (*monitoring.MetricsSnapshot, error) {
	f.hours = hours
	return &monitoring.MetricsSnapshot{JobsTotal: 3, LookbackHours: hours}, nil
}

type harness struct {
	runner  *fakeRunner
	store   *fakeStore
	review  *fakeReview
	breaker *fakeBreaker
	monitor *fakeMonitor
	handler http.Handler
}

func newHarness() *harness {
	h := &harness{
		runner: &fakeRunner{triggerFn: func(req research.TriggerRequest) (*research.Outcome, error) {
			return &research.Outcome{Job: &model.ResearchJob{ID: "job-1", City: req.City, Status: model.JobStatusComplete}}, nil
		}},
		store: &fakeStore{jobs: map[string]*model.ResearchJob{
			"job-1": {ID: "job-1", City: "lisbon", Status: model.JobStatusComplete},
		}},
		review:  &fakeReview{},
		breaker: &fakeBreaker{state: model.GovernorState{Tripped: true, ConsecutiveFailures: 3}},
		monitor: &fakeMonitor{},
	}
	h.handler = New(Deps{
		Runner:  h.runner,
		Store:   h.store,
		Review:  h.review,
		Breaker: h.breaker,
		Monitor: h.monitor,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("venue_fusion_jobs_total 1\n"))
		}),
	}).Handler()
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	h := newHarness()
	rec, _ := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.store.pingErr = errors.New("db down")
	rec, resp := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", resp.Error.Code)
}

func TestTriggerJob(t *testing.T) {
	h := newHarness()
	rec, resp := h.do(t, http.MethodPost, "/jobs", `{"city":"lisbon","reason":"manual-seed","write_back":true}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Nil(t, resp.Error)
	assert.Equal(t, "lisbon", h.runner.got.City)
	assert.Equal(t, model.TriggerManualSeed, h.runner.got.Reason)
	assert.True(t, h.runner.got.WriteBack)

	// Reason defaults to a gap fill.
	h.do(t, http.MethodPost, "/jobs", `{"city":"porto"}`)
	assert.Equal(t, model.TriggerOnDemandGapFill, h.runner.got.Reason)
}

func TestTriggerJobBadRequests(t *testing.T) {
	h := newHarness()
	for _, body := range []string{`not json`, `{"reason":"manual-seed"}`, `{"city":"lisbon","reason":"whenever"}`} {
		rec, resp := h.do(t, http.MethodPost, "/jobs", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "bad_request", resp.Error.Code, body)
	}
}

func TestTriggerRefusalStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{governor.ErrCooldownActive, http.StatusConflict, "cooldown_active"},
		{governor.ErrJobActive, http.StatusConflict, "job_active"},
		{governor.ErrCostCapped, http.StatusTooManyRequests, "cost_capped"},
		{governor.ErrCircuitOpen, http.StatusServiceUnavailable, "circuit_open"},
		{governor.ErrUnknownCity, http.StatusUnprocessableEntity, "unknown_city"},
		{bundle.ErrNoSourceData, http.StatusUnprocessableEntity, "no_source_data"},
		{research.ErrCorpusNotScored, http.StatusUnprocessableEntity, "corpus_not_scored"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := newHarness()
			h.runner.triggerFn = func(research.TriggerRequest) (*research.Outcome, error) {
				return nil, eris.Wrap(tc.err, "research: lisbon")
			}
			rec, resp := h.do(t, http.MethodPost, "/jobs", `{"city":"lisbon"}`)
			assert.Equal(t, tc.status, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestJobs(t *testing.T) {
	h := newHarness()

	rec, resp := h.do(t, http.MethodGet, "/jobs?city=lisbon&status=COMPLETE&limit=5&since=2026-10-01T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, "lisbon", h.store.filter.City)
	assert.Equal(t, 5, h.store.filter.Limit)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), h.store.filter.CreatedAfter)

	rec, _ = h.do(t, http.MethodGet, "/jobs?status=DONE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = h.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestJobResultsScopedToJobCity(t *testing.T) {
	h := newHarness()
	rec, resp := h.do(t, http.MethodGet, "/jobs/job-1/results", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, resp.Data)
	assert.Equal(t, store.ResultFilter{City: "lisbon", JobID: "job-1"}, h.store.resFilter)
}

func TestResume(t *testing.T) {
	h := newHarness()
	rec, _ := h.do(t, http.MethodPost, "/jobs/job-1/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.runner.resumeErr = eris.Wrap(research.ErrJobTerminal, "research: job job-1 is COMPLETE")
	rec, resp := h.do(t, http.MethodPost, "/jobs/job-1/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "job_terminal", resp.Error.Code)
}

func TestReview(t *testing.T) {
	h := newHarness()

	rec, _ := h.do(t, http.MethodGet, "/review", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := h.do(t, http.MethodGet, "/review?city=lisbon", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, _ = h.do(t, http.MethodPost, "/review/r1/approve", `{"reviewer":"ana"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ana", h.review.reviewer)

	rec, _ = h.do(t, http.MethodPost, "/review/r1/reject", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.review.err = eris.Wrap(review.ErrNotPending, "review: r1 is approved")
	rec, resp = h.do(t, http.MethodPost, "/review/r1/approve", `{"reviewer":"ana"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_pending", resp.Error.Code)

	h.review.err = eris.Wrap(review.ErrSuperseded, "review: v1 was written by job j2")
	rec, resp = h.do(t, http.MethodPost, "/review/r1/approve", `{"reviewer":"ana"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "superseded", resp.Error.Code)
}

func TestBreaker(t *testing.T) {
	h := newHarness()

	rec, resp := h.do(t, http.MethodGet, "/breaker", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	view := resp.Data.(map[string]any)
	assert.Equal(t, true, view["tripped"])
	assert.InDelta(t, 25, view["daily_cap_usd"], 1e-9)

	rec, _ = h.do(t, http.MethodPost, "/breaker/reset", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/breaker/reset", `{"operator":"ops"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", h.breaker.operator)
}

func TestSnapshotAndMetrics(t *testing.T) {
	h := newHarness()

	rec, _ := h.do(t, http.MethodGet, "/snapshot", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 24, h.monitor.hours)

	h.do(t, http.MethodGet, "/snapshot?lookback_hours=6", "")
	assert.Equal(t, 6, h.monitor.hours)

	rec, _ = h.do(t, http.MethodGet, "/snapshot?lookback_hours=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "venue_fusion_jobs_total")
}

func TestCORS(t *testing.T) {
	h := newHarness()
	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
