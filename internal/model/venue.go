package model

import (
	"time"
)

// Venue is the canonical entity. Identity and corpus columns are owned by the
// corpus scoring subsystem; the Research* columns are the only ones this
// engine writes.
type Venue struct {
	ID       string `json:"id"`
	City     string `json:"city"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`

	CorpusScore       *float64   `json:"corpus_score,omitempty"`
	CorpusConfidence  *float64   `json:"corpus_confidence,omitempty"`
	CorpusTags        []string   `json:"corpus_tags,omitempty"`
	CorpusSourceCount int        `json:"corpus_source_count"`
	CorpusAmplified   bool       `json:"corpus_amplified"`
	CorpusScoredAt    *time.Time `json:"corpus_scored_at,omitempty"`

	Research ResearchFields `json:"research"`
}

// ResearchFields is the engine-owned additive column set on Venue.
type ResearchFields struct {
	Confidence *float64   `json:"confidence,omitempty"`
	Score      *float64   `json:"score,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Conflict   bool       `json:"conflict"`
	Provenance Provenance `json:"provenance,omitempty"`
	JobID      string     `json:"job_id,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// VenueWrite is one additive-field update for a venue, keyed by the
// result that produced it.
type VenueWrite struct {
	VenueID  string
	City     string
	ResultID string
	Fields   ResearchFields
}

// SourceDocument is a raw evidence document from the upstream content store.
type SourceDocument struct {
	ID         string    `json:"id"`
	City       string    `json:"city"`
	SourceType string    `json:"source_type"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text"`
	Engagement float64   `json:"engagement"`
	Authority  float64   `json:"authority"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
