package model

// DocumentScope classifies a bundle document relative to the candidate list.
type DocumentScope string

const (
	ScopeVenue   DocumentScope = "venue"
	ScopeGeneral DocumentScope = "general"
)

// BundleDocument is a sanitized, length-capped document admitted to a bundle.
type BundleDocument struct {
	ID         string        `json:"id"`
	SourceType string        `json:"source_type"`
	Quality    float64       `json:"quality"`
	Tokens     int           `json:"tokens"`
	Scope      DocumentScope `json:"scope"`
	Mentions   []string      `json:"mentions,omitempty"`
	Engagement float64       `json:"engagement"`
	Text       string        `json:"text"`
}

// Removal counts what the sanitizer stripped.
type Removal struct {
	Emails     int `json:"emails"`
	Phones     int `json:"phones"`
	Handles    int `json:"handles"`
	URLs       int `json:"urls"`
	Directives int `json:"directives"`
}

// Add merges removal counts.
func (r *Removal) Add(o Removal) {
	r.Emails += o.Emails
	r.Phones += o.Phones
	r.Handles += o.Handles
	r.URLs += o.URLs
	r.Directives += o.Directives
}

// Identifying returns the count of identifying substrings removed.
func (r Removal) Identifying() int {
	return r.Emails + r.Phones + r.Handles + r.URLs
}

// Bundle is the token-bounded grounding set for one job.
type Bundle struct {
	JobID                string           `json:"job_id"`
	City                 string           `json:"city"`
	Documents            []BundleDocument `json:"documents"`
	AmplificationSuspect []string         `json:"amplification_suspects,omitempty"`
	Removed              Removal          `json:"removed"`
	DroppedForBudget     int              `json:"dropped_for_budget"`
	TotalTokens          int              `json:"total_tokens"`
}

// IsAmplified reports whether name was flagged as an amplification suspect.
func (b *Bundle) IsAmplified(name string) bool {
	for _, s := range b.AmplificationSuspect {
		if s == name {
			return true
		}
	}
	return false
}

// Neighborhood is one Pass-A neighborhood description.
type Neighborhood struct {
	Name      string `json:"name"`
	Character string `json:"character"`
}

// Divergence is a contradiction between the bundle and prior knowledge.
// It is recorded, never resolved.
type Divergence struct {
	Topic       string `json:"topic"`
	BundleClaim string `json:"bundle_claim"`
	PriorBelief string `json:"prior_belief"`
}

// CityResearchSynthesis is the Pass-A output for one job.
type CityResearchSynthesis struct {
	JobID            string         `json:"job_id"`
	City             string         `json:"city"`
	Summary          string         `json:"summary"`
	Neighborhoods    []Neighborhood `json:"neighborhoods"`
	TemporalPatterns []string       `json:"temporal_patterns"`
	NotableVenues    []string       `json:"notable_venues"`
	Divergences      []Divergence   `json:"divergences"`
	ModelVersion     string         `json:"model_version"`
}
