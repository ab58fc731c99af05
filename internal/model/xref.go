package model

import (
	"time"
)

// Provenance describes which sources contributed to a merged result.
type Provenance string

const (
	ProvenanceResearchOnly Provenance = "research_only"
	ProvenanceCorpusOnly   Provenance = "corpus_only"
	ProvenanceBothAgree    Provenance = "both_agree"
	ProvenanceBothConflict Provenance = "both_conflict"
)

// WriteAction is what the write-back gate did with a result.
type WriteAction string

const (
	ActionPending           WriteAction = "pending"
	ActionDryRun            WriteAction = "dry_run"
	ActionApplied           WriteAction = "applied"
	ActionWithheldForReview WriteAction = "withheld_for_review"
	ActionUnchanged         WriteAction = "unchanged"
	ActionWriteFailed       WriteAction = "write_failed"
)

// ReviewStatus tracks the human-review state of a result.
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = "none"
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// CrossReferenceResult is the merged output for one (venue, job). It is an
// audit record, not the system of record.
type CrossReferenceResult struct {
	ID         string     `json:"id"`
	VenueID    string     `json:"venue_id"`
	VenueName  string     `json:"venue_name"`
	JobID      string     `json:"job_id"`
	City       string     `json:"city"`
	Provenance Provenance `json:"provenance"`
	Conflict   bool       `json:"conflict"`
	ScoreDelta float64    `json:"score_delta"`
	TagOverlap float64    `json:"tag_overlap"`

	CorpusScore        *float64 `json:"corpus_score,omitempty"`
	ResearchScore      *float64 `json:"research_score,omitempty"`
	CorpusConfidence   *float64 `json:"corpus_confidence,omitempty"`
	ResearchConfidence *float64 `json:"research_confidence,omitempty"`

	MergedScore      float64  `json:"merged_score"`
	MergedConfidence float64  `json:"merged_confidence"`
	MergedTags       []string `json:"merged_tags"`

	PriorScore      *float64 `json:"prior_score,omitempty"`
	PriorConfidence *float64 `json:"prior_confidence,omitempty"`
	PriorTags       []string `json:"prior_tags,omitempty"`

	ResolvedBy   ResolutionMethod `json:"resolved_by,omitempty"`
	Action       WriteAction      `json:"action"`
	ReviewStatus ReviewStatus     `json:"review_status"`
	Reviewer     string           `json:"reviewer,omitempty"`
	ReviewedAt   *time.Time       `json:"reviewed_at,omitempty"`
	ComputedAt   time.Time        `json:"computed_at"`
}

// Fields returns the additive venue fields this result would write.
func (r *CrossReferenceResult) Fields() ResearchFields {
	computed := r.ComputedAt
	return ResearchFields{
		Confidence: Float64(r.MergedConfidence),
		Score:      Float64(r.MergedScore),
		Tags:       r.MergedTags,
		Conflict:   r.Conflict,
		Provenance: r.Provenance,
		JobID:      r.JobID,
		UpdatedAt:  &computed,
	}
}
