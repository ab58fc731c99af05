package model

import (
	"time"
)

// JobStatus represents the current state of a research job.
type JobStatus string

const (
	JobStatusQueued           JobStatus = "QUEUED"
	JobStatusAssemblingBundle JobStatus = "ASSEMBLING_BUNDLE"
	JobStatusRunningPassA     JobStatus = "RUNNING_PASS_A"
	JobStatusRunningPassB     JobStatus = "RUNNING_PASS_B"
	JobStatusValidating       JobStatus = "VALIDATING"
	JobStatusResolving        JobStatus = "RESOLVING"
	JobStatusCrossReferencing JobStatus = "CROSS_REFERENCING"
	JobStatusWritingBack      JobStatus = "WRITING_BACK"
	JobStatusComplete         JobStatus = "COMPLETE"
	JobStatusValidationFailed JobStatus = "VALIDATION_FAILED"
	JobStatusError            JobStatus = "ERROR"
)

// jobSequence is the only forward path through the state machine.
var jobSequence = []JobStatus{
	JobStatusQueued,
	JobStatusAssemblingBundle,
	JobStatusRunningPassA,
	JobStatusRunningPassB,
	JobStatusValidating,
	JobStatusResolving,
	JobStatusCrossReferencing,
	JobStatusWritingBack,
	JobStatusComplete,
}

// Rank returns the position of s in the forward sequence, or -1 for the
// failure terminals and unknown values.
func (s JobStatus) Rank() int {
	for i, st := range jobSequence {
		if st == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusValidationFailed || s == JobStatusError
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s.Rank() >= 0 || s == JobStatusValidationFailed || s == JobStatusError
}

// CanAdvance reports whether a job in status s may move to next. Forward
// moves are one step at a time; failure terminals are reachable from any
// non-terminal status.
func (s JobStatus) CanAdvance(next JobStatus) bool {
	if s.Terminal() || !s.Valid() {
		return false
	}
	if next == JobStatusValidationFailed || next == JobStatusError {
		return true
	}
	cur, nxt := s.Rank(), next.Rank()
	return cur >= 0 && nxt == cur+1
}

// Next returns the status following s in the forward sequence.
func (s JobStatus) Next() (JobStatus, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(jobSequence) {
		return "", false
	}
	return jobSequence[r+1], true
}

// TriggerReason identifies why a job was started.
type TriggerReason string

const (
	TriggerManualSeed       TriggerReason = "manual-seed"
	TriggerOnDemandGapFill  TriggerReason = "on-demand-gap-fill"
	TriggerScheduledRefresh TriggerReason = "scheduled-refresh"
)

// Valid reports whether r is a known trigger reason.
func (r TriggerReason) Valid() bool {
	switch r {
	case TriggerManualSeed, TriggerOnDemandGapFill, TriggerScheduledRefresh:
		return true
	}
	return false
}

// Manual reports whether the trigger came from an operator.
func (r TriggerReason) Manual() bool {
	return r == TriggerManualSeed
}

// Severity grades a job warning.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Warning is a non-blocking finding attached to a job.
type Warning struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ResearchJob is one fusion run for one city.
type ResearchJob struct {
	ID                string        `json:"id"`
	City              string        `json:"city"`
	Reason            TriggerReason `json:"reason"`
	WriteBack         bool          `json:"write_back"`
	DiffReport        bool          `json:"diff_report"`
	Status            JobStatus     `json:"status"`
	LastCompletedStep JobStatus     `json:"last_completed_step,omitempty"`
	ModelVersion      string        `json:"model_version"`
	VocabVersion      string        `json:"vocab_version,omitempty"`
	Usage             TokenUsage    `json:"usage"`
	CandidateCount    int           `json:"candidate_count"`
	SignalCount       int           `json:"signal_count"`
	ResolvedCount     int           `json:"resolved_count"`
	UnresolvedCount   int           `json:"unresolved_count"`
	ConflictCount     int           `json:"conflict_count"`
	ReviewCount       int           `json:"review_count"`
	AppliedCount      int           `json:"applied_count"`
	FailedBatches     int           `json:"failed_batches"`
	Warnings          []Warning     `json:"warnings,omitempty"`
	Error             string        `json:"error,omitempty"`
	ReportPath        string        `json:"report_path,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
}

// UnresolvedRatio returns unresolved / signals, or 0 with no signals.
func (j *ResearchJob) UnresolvedRatio() float64 {
	total := j.ResolvedCount + j.UnresolvedCount
	if total == 0 {
		return 0
	}
	return float64(j.UnresolvedCount) / float64(total)
}

// AddWarning appends a warning to the job.
func (j *ResearchJob) AddWarning(code string, sev Severity, msg string) {
	j.Warnings = append(j.Warnings, Warning{Code: code, Severity: sev, Message: msg})
}

// TokenUsage tracks token consumption and its cost.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}

// GovernorState is the persisted circuit-breaker state.
type GovernorState struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Tripped             bool       `json:"tripped"`
	TrippedAt           *time.Time `json:"tripped_at,omitempty"`
	ResetBy             string     `json:"reset_by,omitempty"`
	ResetAt             *time.Time `json:"reset_at,omitempty"`
}
