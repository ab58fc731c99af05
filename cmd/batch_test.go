//go:build !integration

package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/venue-fusion/internal/governor"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/research"
)

func outcome(city string, status model.JobStatus) *research.Outcome {
	return &research.Outcome{Job: &model.ResearchJob{ID: city + "-job", City: city, Status: status}}
}

func TestProcessBatch_Counts(t *testing.T) {
	defer goleak.VerifyNone(t)

	cities := []string{"austin", "boston", "chicago", "denver"}
	sum, err := processBatch(context.Background(), cities, 0, 2, func(_ context.Context, city string) (*research.Outcome, error) {
		switch city {
		case "boston":
			return nil, eris.Wrap(governor.ErrCooldownActive, "governor: until tomorrow")
		case "chicago":
			return outcome(city, model.JobStatusValidationFailed), nil
		case "denver":
			return nil, eris.New("store unavailable")
		}
		return outcome(city, model.JobStatusComplete), nil
	})
	require.NoError(t, err)
	assert.Equal(t, batchSummary{Completed: 1, Refused: 1, Failed: 2}, sum)
}

func TestProcessBatch_Limit(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var seen []string
	sum, err := processBatch(context.Background(), []string{"a", "b", "c"}, 2, 4, func(_ context.Context, city string) (*research.Outcome, error) {
		mu.Lock()
		seen = append(seen, city)
		mu.Unlock()
		return outcome(city, model.JobStatusComplete), nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
	assert.Equal(t, int64(2), sum.Completed)
}

func TestProcessBatch_Empty(t *testing.T) {
	sum, err := processBatch(context.Background(), nil, 0, 2, func(context.Context, string) (*research.Outcome, error) {
		t.Fatal("trigger should not be called")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestProcessBatch_RespectsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, peak atomic.Int64
	cities := []string{"a", "b", "c", "d", "e", "f"}
	_, err := processBatch(context.Background(), cities, 0, 2, func(_ context.Context, city string) (*research.Outcome, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return outcome(city, model.JobStatusComplete), nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestProcessBatch_ZeroConcurrencyRunsSerially(t *testing.T) {
	defer goleak.VerifyNone(t)

	sum, err := processBatch(context.Background(), []string{"a", "b"}, 0, 0, func(_ context.Context, city string) (*research.Outcome, error) {
		return outcome(city, model.JobStatusComplete), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Completed)
}
