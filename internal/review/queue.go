// Package review operates the human-review queue: results withheld by the
// write-back delta gate wait here until someone approves or rejects them.
package review

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/store"
)

// ErrNotPending is returned when a decision targets a result that is not
// awaiting review.
var ErrNotPending = eris.New("review: result is not pending review")

// ErrSuperseded is returned when approving a result whose venue already
// carries research written after the result was computed.
var ErrSuperseded = eris.New("review: venue has newer research than the result")

// Store is the persistence the queue needs.
type Store interface {
	ListResults(ctx context.Context, filter store.ResultFilter) ([]model.CrossReferenceResult, error)
	GetResult(ctx context.Context, resultID string) (*model.CrossReferenceResult, error)
	ListVenues(ctx context.Context, city string) ([]model.Venue, error)
	SetReview(ctx context.Context, resultID string, status model.ReviewStatus, reviewer string, at time.Time) error
}

// Writer forces the write of a single result.
type Writer interface {
	ApplyOne(ctx context.Context, r *model.CrossReferenceResult) error
}

// Observer is told about writes forced by approval.
type Observer interface {
	Reviewed(action model.WriteAction)
}

// Queue is the review queue.
type Queue struct {
	store    Store
	writer   Writer
	observer Observer
	now      func() time.Time
}

// NewQueue creates a Queue. observer may be nil.
func NewQueue(st Store, w Writer, observer Observer) *Queue {
	return &Queue{store: st, writer: w, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// List returns results in city awaiting review.
func (q *Queue) List(ctx context.Context, city string, limit int) ([]model.CrossReferenceResult, error) {
	results, err := q.store.ListResults(ctx, store.ResultFilter{
		City:         city,
		ReviewStatus: model.ReviewPending,
		Limit:        limit,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "review: list %s", city)
	}
	return results, nil
}

// Approve writes the result to its venue and marks it approved. It refuses
// with ErrSuperseded when another job wrote the venue after the result was
// computed; the result stays pending so it can be rejected.
func (q *Queue) Approve(ctx context.Context, resultID, reviewer string) (*model.CrossReferenceResult, error) {
	r, err := q.pending(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := q.checkCurrent(ctx, r); err != nil {
		return nil, err
	}

	r.ReviewStatus = model.ReviewApproved
	if err := q.writer.ApplyOne(ctx, r); err != nil {
		return nil, eris.Wrapf(err, "review: approve %s", resultID)
	}
	if err := q.decide(ctx, r, model.ReviewApproved, reviewer); err != nil {
		return nil, err
	}
	if q.observer != nil {
		q.observer.Reviewed(model.ActionApplied)
	}

	zap.L().Info("review: approved",
		zap.String("result_id", r.ID),
		zap.String("venue_id", r.VenueID),
		zap.String("city", r.City),
		zap.String("reviewer", reviewer),
	)
	return r, nil
}

// Reject marks the result rejected. The venue is left as it was.
func (q *Queue) Reject(ctx context.Context, resultID, reviewer string) (*model.CrossReferenceResult, error) {
	r, err := q.pending(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := q.decide(ctx, r, model.ReviewRejected, reviewer); err != nil {
		return nil, err
	}
	zap.L().Info("review: rejected",
		zap.String("result_id", r.ID),
		zap.String("city", r.City),
		zap.String("reviewer", reviewer),
	)
	return r, nil
}

func (q *Queue) pending(ctx context.Context, resultID string) (*model.CrossReferenceResult, error) {
	r, err := q.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: get %s", resultID)
	}
	if r.ReviewStatus != model.ReviewPending {
		return nil, eris.Wrapf(ErrNotPending, "review: %s is %s", resultID, r.ReviewStatus)
	}
	return r, nil
}

func (q *Queue) checkCurrent(ctx context.Context, r *model.CrossReferenceResult) error {
	venues, err := q.store.ListVenues(ctx, r.City)
	if err != nil {
		return eris.Wrapf(err, "review: list venues for %s", r.City)
	}
	for _, v := range venues {
		if v.ID != r.VenueID {
			continue
		}
		cur := v.Research
		if cur.JobID != "" && cur.JobID != r.JobID && cur.UpdatedAt != nil && cur.UpdatedAt.After(r.ComputedAt) {
			return eris.Wrapf(ErrSuperseded, "review: %s was written by job %s at %s",
				v.ID, cur.JobID, cur.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	}
	return nil
}

func (q *Queue) decide(ctx context.Context, r *model.CrossReferenceResult, status model.ReviewStatus, reviewer string) error {
	if reviewer == "" {
		reviewer = "unknown"
	}
	at := q.now()
	if err := q.store.SetReview(ctx, r.ID, status, reviewer, at); err != nil {
		return eris.Wrapf(err, "review: record %s for %s", status, r.ID)
	}
	r.ReviewStatus = status
	r.Reviewer = reviewer
	r.ReviewedAt = &at
	return nil
}
