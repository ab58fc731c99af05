package schedule

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/research"
)

// Triggerer starts research jobs.
type Triggerer interface {
	Trigger(ctx context.Context, req research.TriggerRequest) (*research.Outcome, error)
}

// TriggerCityInput is the activity input.
type TriggerCityInput struct {
	City      string `json:"city"`
	WriteBack bool   `json:"write_back"`
}

// CityResult is what one city's trigger produced. Refused names the refusal
// reason; Status is empty when no job was admitted.
type CityResult struct {
	City    string          `json:"city"`
	JobID   string          `json:"job_id,omitempty"`
	Status  model.JobStatus `json:"status,omitempty"`
	Cost    float64         `json:"cost,omitempty"`
	Refused string          `json:"refused,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Activities holds the activity implementations.
type Activities struct {
	trigger Triggerer
}

// NewActivities creates the activity set.
func NewActivities(t Triggerer) *Activities {
	return &Activities{trigger: t}
}

// TriggerCity runs one scheduled-refresh job. Refusals are a normal result,
// not an error, so the activity is not retried for them.
func (a *Activities) TriggerCity(ctx context.Context, in TriggerCityInput) (*CityResult, error) {
	log := zap.L().With(zap.String("component", "schedule"), zap.String("city", in.City))

	out, err := a.trigger.Trigger(ctx, research.TriggerRequest{
		City:      in.City,
		Reason:    model.TriggerScheduledRefresh,
		WriteBack: in.WriteBack,
	})
	if err != nil {
		if reason := research.RefusalReason(err); reason != "" {
			log.Info("schedule: city refused", zap.String("reason", reason))
			return &CityResult{City: in.City, Refused: reason}, nil
		}
		return nil, eris.Wrapf(err, "schedule: trigger %s", in.City)
	}

	res := &CityResult{
		City:   in.City,
		JobID:  out.Job.ID,
		Status: out.Job.Status,
		Cost:   out.Job.Usage.Cost,
	}
	if out.Job.Status != model.JobStatusComplete {
		res.Error = out.Job.Error
		if res.Error == "" {
			res.Error = string(out.Job.Status)
		}
	}
	log.Info("schedule: city finished",
		zap.String("job_id", res.JobID),
		zap.String("status", string(res.Status)),
	)
	return res, nil
}
