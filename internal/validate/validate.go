// Package validate is the gate between generated signals and everything
// downstream. Hard violations block the job; soft findings become warnings.
package validate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/vocab"
)

// Finding codes.
const (
	CodeTagNotAllowed       = "tag_not_allowed"
	CodeScoreOutOfRange     = "score_out_of_range"
	CodeConfidenceInflation = "confidence_inflation"
	CodeTagDominance        = "tag_dominance"
	CodePriorHeavy          = "prior_heavy"
	CodeMeanShift           = "mean_shift"
	CodeSpreadCollapse      = "spread_collapse"
)

// Finding is one rule outcome.
type Finding struct {
	Code     string `json:"code"`
	SignalID string `json:"signal_id,omitempty"`
	Message  string `json:"message"`
}

// Report is the gate's verdict over one job's signals.
type Report struct {
	Checked    int       `json:"checked"`
	Violations []Finding `json:"violations,omitempty"`
	Warnings   []Finding `json:"warnings,omitempty"`
}

// Passed reports whether no hard rule fired.
func (r Report) Passed() bool { return len(r.Violations) == 0 }

// Err summarizes the violations, or returns nil when the report passed.
func (r Report) Err() error {
	if r.Passed() {
		return nil
	}
	codes := make(map[string]int)
	for _, v := range r.Violations {
		codes[v.Code]++
	}
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s x%d", k, codes[k])
	}
	return eris.Errorf("validate: %d hard violations (%s)", len(r.Violations), strings.Join(parts, ", "))
}

// JobWarnings converts soft findings into job warnings.
func (r Report) JobWarnings() []model.Warning {
	out := make([]model.Warning, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, model.Warning{Code: w.Code, Severity: model.SeverityWarning, Message: w.Message})
	}
	return out
}

// Gate applies the validation rules.
type Gate struct {
	cfg config.ValidationConfig
}

// NewGate creates a Gate, filling unset thresholds with defaults.
func NewGate(cfg config.ValidationConfig) *Gate {
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = 0.9
	}
	if cfg.MaxHighConfidenceShare <= 0 {
		cfg.MaxHighConfidenceShare = 0.5
	}
	if cfg.MaxTagDominance <= 0 {
		cfg.MaxTagDominance = 0.8
	}
	if cfg.MaxPriorOnlyShare <= 0 {
		cfg.MaxPriorOnlyShare = 0.5
	}
	if cfg.MaxMeanShift <= 0 {
		cfg.MaxMeanShift = 0.25
	}
	if cfg.MinSpreadRatio <= 0 {
		cfg.MinSpreadRatio = 0.25
	}
	if cfg.MinSample <= 0 {
		cfg.MinSample = 5
	}
	return &Gate{cfg: cfg}
}

// Check runs every rule over signals. baseline is the city's existing corpus
// touristiness distribution; a baseline below the minimum sample skips the
// semantic shift rules.
func (g *Gate) Check(signals []model.VenueResearchSignal, v *vocab.Vocabulary, baseline Distribution) Report {
	r := Report{Checked: len(signals)}
	if len(signals) == 0 {
		return r
	}

	var highConf, priorOnly int
	tagVenues := make(map[string]int)
	scores := make([]float64, 0, len(signals))

	for _, s := range signals {
		for _, t := range s.Tags {
			if !v.Allowed(t) {
				r.Violations = append(r.Violations, Finding{
					Code:     CodeTagNotAllowed,
					SignalID: s.ID,
					Message:  fmt.Sprintf("%s: tag %q is not in the vocabulary", s.RawName, t),
				})
			}
		}
		if !unit(s.Touristiness) || !unit(s.Confidence) {
			r.Violations = append(r.Violations, Finding{
				Code:     CodeScoreOutOfRange,
				SignalID: s.ID,
				Message: fmt.Sprintf("%s: touristiness %v / confidence %v outside [0,1]",
					s.RawName, s.Touristiness, s.Confidence),
			})
			continue
		}

		scores = append(scores, s.Touristiness)
		if s.Confidence > g.cfg.HighConfidence {
			highConf++
		}
		if s.KnowledgeSource == model.KnowledgePrior {
			priorOnly++
		}
		seen := make(map[string]struct{}, len(s.Tags))
		for _, t := range s.Tags {
			t = vocab.Normalize(t)
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tagVenues[t]++
		}
	}

	n := float64(len(signals))
	if share := float64(highConf) / n; share > g.cfg.MaxHighConfidenceShare {
		r.warn(CodeConfidenceInflation, "%.0f%% of signals have confidence above %.2f", share*100, g.cfg.HighConfidence)
	}
	if share := float64(priorOnly) / n; share > g.cfg.MaxPriorOnlyShare {
		r.warn(CodePriorHeavy, "%.0f%% of signals rely on prior knowledge only", share*100)
	}
	if len(signals) >= g.cfg.MinSample {
		for _, tag := range sortedKeys(tagVenues) {
			if share := float64(tagVenues[tag]) / n; share > g.cfg.MaxTagDominance {
				r.warn(CodeTagDominance, "tag %q appears on %.0f%% of venues", tag, share*100)
			}
		}
	}

	current := DistributionOf(scores)
	if current.N >= g.cfg.MinSample && baseline.N >= g.cfg.MinSample {
		if shift := math.Abs(current.Mean - baseline.Mean); shift > g.cfg.MaxMeanShift {
			r.warn(CodeMeanShift, "mean touristiness %.2f differs from corpus mean %.2f by %.2f",
				current.Mean, baseline.Mean, shift)
		}
		if baseline.StdDev > 0 && current.StdDev < g.cfg.MinSpreadRatio*baseline.StdDev {
			r.warn(CodeSpreadCollapse, "touristiness spread %.3f collapsed below %.0f%% of corpus spread %.3f",
				current.StdDev, g.cfg.MinSpreadRatio*100, baseline.StdDev)
		}
	}
	return r
}

func (r *Report) warn(code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Finding{Code: code, Message: fmt.Sprintf(format, args...)})
}

func unit(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
