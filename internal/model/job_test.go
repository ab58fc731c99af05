package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanAdvance(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusQueued, JobStatusAssemblingBundle, true},
		{JobStatusAssemblingBundle, JobStatusRunningPassA, true},
		{JobStatusRunningPassB, JobStatusValidating, true},
		{JobStatusCrossReferencing, JobStatusWritingBack, true},
		{JobStatusWritingBack, JobStatusComplete, true},
		{JobStatusQueued, JobStatusRunningPassA, false},
		{JobStatusValidating, JobStatusRunningPassB, false},
		{JobStatusResolving, JobStatusResolving, false},
		{JobStatusRunningPassA, JobStatusError, true},
		{JobStatusValidating, JobStatusValidationFailed, true},
		{JobStatusQueued, JobStatusError, true},
		{JobStatusComplete, JobStatusError, false},
		{JobStatusError, JobStatusQueued, false},
		{JobStatusValidationFailed, JobStatusResolving, false},
		{JobStatus("BOGUS"), JobStatusError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to))
		})
	}
}

func TestJobStatus_Next(t *testing.T) {
	next, ok := JobStatusQueued.Next()
	assert.True(t, ok)
	assert.Equal(t, JobStatusAssemblingBundle, next)

	_, ok = JobStatusComplete.Next()
	assert.False(t, ok)

	_, ok = JobStatusError.Next()
	assert.False(t, ok)
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusComplete.Terminal())
	assert.True(t, JobStatusValidationFailed.Terminal())
	assert.True(t, JobStatusError.Terminal())
	assert.False(t, JobStatusWritingBack.Terminal())
}

func TestTriggerReason(t *testing.T) {
	assert.True(t, TriggerManualSeed.Manual())
	assert.False(t, TriggerScheduledRefresh.Manual())
	assert.True(t, TriggerOnDemandGapFill.Valid())
	assert.False(t, TriggerReason("cron").Valid())
}

func TestResearchJob_UnresolvedRatio(t *testing.T) {
	j := &ResearchJob{}
	assert.Zero(t, j.UnresolvedRatio())

	j.ResolvedCount = 8
	j.UnresolvedCount = 2
	assert.InDelta(t, 0.2, j.UnresolvedRatio(), 1e-9)
}

func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{InputTokens: 100, OutputTokens: 50, Cost: 0.01}
	a.Add(TokenUsage{InputTokens: 10, OutputTokens: 5, CacheReadTokens: 7, Cost: 0.002})

	assert.Equal(t, 110, a.InputTokens)
	assert.Equal(t, 55, a.OutputTokens)
	assert.Equal(t, 7, a.CacheReadTokens)
	assert.InDelta(t, 0.012, a.Cost, 1e-9)
}

func TestCrossReferenceResult_Fields(t *testing.T) {
	r := &CrossReferenceResult{
		JobID:            "job-1",
		MergedScore:      0.4,
		MergedConfidence: 0.7,
		MergedTags:       []string{"quiet"},
		Conflict:         true,
		Provenance:       ProvenanceBothConflict,
	}
	f := r.Fields()
	assert.InDelta(t, 0.7, *f.Confidence, 1e-9)
	assert.InDelta(t, 0.4, *f.Score, 1e-9)
	assert.Equal(t, "job-1", f.JobID)
	assert.True(t, f.Conflict)
	assert.Equal(t, ProvenanceBothConflict, f.Provenance)
	assert.NotNil(t, f.UpdatedAt)
}
