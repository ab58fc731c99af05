// Package api serves the HTTP surface: job triggers and status, dashboards,
// the review queue, and breaker control.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/monitoring"
	"github.com/sells-group/venue-fusion/internal/research"
	"github.com/sells-group/venue-fusion/internal/store"
)

// Runner starts and resumes jobs.
type Runner interface {
	Trigger(ctx context.Context, req research.TriggerRequest) (*research.Outcome, error)
	Resume(ctx context.Context, jobID string) (*research.Outcome, error)
}

// Store is the read side the API queries directly.
type Store interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.ResearchJob, error)
	GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error)
	ListResults(ctx context.Context, filter store.ResultFilter) ([]model.CrossReferenceResult, error)
	Ping(ctx context.Context) error
}

// Reviewer operates the review queue.
type Reviewer interface {
	List(ctx context.Context, city string, limit int) ([]model.CrossReferenceResult, error)
	Approve(ctx context.Context, resultID, reviewer string) (*model.CrossReferenceResult, error)
	Reject(ctx context.Context, resultID, reviewer string) (*model.CrossReferenceResult, error)
}

// Breaker exposes the governor's breaker and spend.
type Breaker interface {
	State(ctx context.Context) (model.GovernorState, error)
	ResetBreaker(ctx context.Context, operator string) (model.GovernorState, error)
	DailySpend(ctx context.Context) (float64, error)
	Cap() float64
}

// Snapshotter collects health snapshots.
type Snapshotter interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the services behind the routes. Metrics may be nil.
type Deps struct {
	Runner         Runner
	Store          Store
	Review         Reviewer
	Breaker        Breaker
	Monitor        Snapshotter
	Metrics        http.Handler
	AllowedOrigins []string
	LookbackHours  int
}

// Server holds the HTTP handlers.
type Server struct {
	d Deps
}

// New creates a Server.
func New(d Deps) *Server {
	if d.LookbackHours <= 0 {
		d.LookbackHours = 24
	}
	return &Server{d: d}
}

// Handler builds the router with middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.triggerJob)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Get("/{id}/results", s.jobResults)
		r.Post("/{id}/resume", s.resumeJob)
	})

	r.Route("/review", func(r chi.Router) {
		r.Get("/", s.listReview)
		r.Post("/{id}/approve", s.approve)
		r.Post("/{id}/reject", s.reject)
	})

	r.Get("/breaker", s.breakerStatus)
	r.Post("/breaker/reset", s.resetBreaker)
	r.Get("/snapshot", s.snapshot)

	if s.d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.d.Metrics)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
