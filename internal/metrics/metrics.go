// Package metrics exposes job, spend, and write-back counters for
// prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/writeback"
)

const namespace = "venue_fusion"

// Metrics holds the collectors on a private registry, so tests and multiple
// servers in one process never collide on the default registry.
type Metrics struct {
	registry *prometheus.Registry

	jobs       *prometheus.CounterVec
	cost       prometheus.Histogram
	tokens     *prometheus.CounterVec
	unresolved *prometheus.GaugeVec
	conflicts  *prometheus.CounterVec
	refusals   *prometheus.CounterVec
	writes     *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Research jobs that reached a terminal status.",
		}, []string{"city", "status"}),
		cost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_cost_usd",
			Help:      "Generative spend per finished job.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by generative calls.",
		}, []string{"kind"}),
		unresolved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unresolved_ratio",
			Help:      "Unresolved signal share of the latest finished job per city.",
		}, []string{"city"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Cross-reference results where corpus and research disagree.",
		}, []string{"city"}),
		refusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refusals_total",
			Help:      "Triggers refused before admission.",
		}, []string{"reason"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write-back actions recorded on results.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs, m.cost, m.tokens, m.unresolved, m.conflicts, m.refusals, m.writes,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobFinished records a job that stopped, terminal or interrupted.
func (m *Metrics) JobFinished(job *model.ResearchJob) {
	m.jobs.WithLabelValues(job.City, string(job.Status)).Inc()
	m.cost.Observe(job.Usage.Cost)

	m.tokens.WithLabelValues("input").Add(float64(job.Usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(job.Usage.OutputTokens))
	m.tokens.WithLabelValues("cache_write").Add(float64(job.Usage.CacheCreationTokens))
	m.tokens.WithLabelValues("cache_read").Add(float64(job.Usage.CacheReadTokens))

	if job.ResolvedCount+job.UnresolvedCount > 0 {
		m.unresolved.WithLabelValues(job.City).Set(job.UnresolvedRatio())
	}
	if job.ConflictCount > 0 {
		m.conflicts.WithLabelValues(job.City).Add(float64(job.ConflictCount))
	}
}

// Refused records a refused trigger.
func (m *Metrics) Refused(reason string) {
	m.refusals.WithLabelValues(reason).Inc()
}

// Written records the actions of one write-back pass.
func (m *Metrics) Written(sum writeback.Summary) {
	for action, n := range map[model.WriteAction]int{
		model.ActionDryRun:            sum.DryRun,
		model.ActionApplied:           sum.Applied,
		model.ActionWithheldForReview: sum.Withheld,
		model.ActionUnchanged:         sum.Unchanged,
		model.ActionWriteFailed:       sum.Failed,
	} {
		if n > 0 {
			m.writes.WithLabelValues(string(action)).Add(float64(n))
		}
	}
}

// Reviewed records a single-row write forced by review approval.
func (m *Metrics) Reviewed(action model.WriteAction) {
	m.writes.WithLabelValues(string(action)).Inc()
}
