package model

import (
	"time"
)

// ResolutionStatus tracks identity resolution of a research signal.
type ResolutionStatus string

const (
	ResolutionPending    ResolutionStatus = "pending"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionUnresolved ResolutionStatus = "unresolved"
)

// ResolutionMethod records which resolver tier matched.
type ResolutionMethod string

const (
	MethodExact   ResolutionMethod = "exact"
	MethodTrigram ResolutionMethod = "trigram"
)

// KnowledgeSource records where a signal's evidence came from.
type KnowledgeSource string

const (
	KnowledgeBundle KnowledgeSource = "bundle"
	KnowledgePrior  KnowledgeSource = "prior"
	KnowledgeBoth   KnowledgeSource = "both"
)

// Valid reports whether k is a known knowledge source.
func (k KnowledgeSource) Valid() bool {
	return k == KnowledgeBundle || k == KnowledgePrior || k == KnowledgeBoth
}

// VenueResearchSignal is one Pass-B output row.
type VenueResearchSignal struct {
	ID                   string           `json:"id"`
	JobID                string           `json:"job_id"`
	City                 string           `json:"city"`
	BatchIndex           int              `json:"batch_index"`
	RawName              string           `json:"raw_name"`
	VenueID              string           `json:"venue_id,omitempty"`
	ResolutionStatus     ResolutionStatus `json:"resolution_status"`
	ResolutionMethod     ResolutionMethod `json:"resolution_method,omitempty"`
	ResolutionConfidence float64          `json:"resolution_confidence"`
	Tags                 []string         `json:"tags"`
	Touristiness         float64          `json:"touristiness"`
	Confidence           float64          `json:"confidence"`
	KnowledgeSource      KnowledgeSource  `json:"knowledge_source"`
	AmplificationSuspect bool             `json:"amplification_suspect"`
	ConflictNote         string           `json:"conflict_note,omitempty"`
	EvidenceIDs          []string         `json:"evidence_ids,omitempty"`
}

// UnresolvedResearchSignal is a signal queued for opportunistic re-resolution.
type UnresolvedResearchSignal struct {
	ID              string     `json:"id"`
	City            string     `json:"city"`
	JobID           string     `json:"job_id"`
	SignalID        string     `json:"signal_id"`
	RawName         string     `json:"raw_name"`
	NormalizedName  string     `json:"normalized_name"`
	Attempts        int        `json:"attempts"`
	LastAttemptAt   time.Time  `json:"last_attempt_at"`
	ResolvedVenueID string     `json:"resolved_venue_id,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Resolution is the outcome of resolving one signal.
type Resolution struct {
	SignalID   string
	VenueID    string
	Method     ResolutionMethod
	Confidence float64
}
