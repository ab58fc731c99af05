package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/research"
	"github.com/sells-group/venue-fusion/internal/store"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Store.Ping(r.Context()); err != nil {
		fail(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	ok(w, map[string]string{"status": "ok"})
}

// triggerJob runs the job to a terminal status before responding. A job that
// fails inside the pipeline still answers 201 with its failure status.
func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	var req research.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.City == "" {
		badRequest(w, "city is required")
		return
	}
	if req.Reason == "" {
		req.Reason = model.TriggerOnDemandGapFill
	}
	if !req.Reason.Valid() {
		badRequest(w, "unknown trigger reason "+strconv.Quote(string(req.Reason)))
		return
	}

	out, err := s.d.Runner.Trigger(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Data: out})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		City:   q.Get("city"),
		Status: model.JobStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		badRequest(w, "unknown status "+strconv.Quote(string(filter.Status)))
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		badRequest(w, "offset must be an integer")
		return
	}
	if since := q.Get("since"); since != "" {
		if filter.CreatedAfter, err = time.Parse(time.RFC3339, since); err != nil {
			badRequest(w, "since must be RFC 3339")
			return
		}
	}

	jobs, err := s.d.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.ResearchJob{}
	}
	ok(w, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.d.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, job)
}

func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	job, err := s.d.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.d.Store.ListResults(r.Context(), store.ResultFilter{
		City:         job.City,
		JobID:        job.ID,
		ReviewStatus: model.ReviewStatus(r.URL.Query().Get("review_status")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []model.CrossReferenceResult{}
	}
	ok(w, results)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	out, err := s.d.Runner.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, out)
}

func (s *Server) listReview(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		badRequest(w, "city is required")
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 100)
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	results, err := s.d.Review.List(r.Context(), city, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []model.CrossReferenceResult{}
	}
	ok(w, results)
}

type decision struct {
	Reviewer string `json:"reviewer"`
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var d decision
	if !decodeOptional(w, r, &d) {
		return
	}
	res, err := s.d.Review.Approve(r.Context(), chi.URLParam(r, "id"), d.Reviewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, res)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var d decision
	if !decodeOptional(w, r, &d) {
		return
	}
	res, err := s.d.Review.Reject(r.Context(), chi.URLParam(r, "id"), d.Reviewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, res)
}

type breakerView struct {
	model.GovernorState
	DailySpendUSD float64 `json:"daily_spend_usd"`
	DailyCapUSD   float64 `json:"daily_cap_usd"`
}

func (s *Server) breakerStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.d.Breaker.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	spend, err := s.d.Breaker.DailySpend(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, breakerView{GovernorState: state, DailySpendUSD: spend, DailyCapUSD: s.d.Breaker.Cap()})
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator string `json:"operator"`
	}
	if !decodeOptional(w, r, &body) {
		return
	}
	if body.Operator == "" {
		badRequest(w, "operator is required")
		return
	}
	state, err := s.d.Breaker.ResetBreaker(r.Context(), body.Operator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, state)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("lookback_hours"), s.d.LookbackHours)
	if err != nil || hours <= 0 {
		badRequest(w, "lookback_hours must be a positive integer")
		return
	}
	snap, err := s.d.Monitor.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, snap)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
