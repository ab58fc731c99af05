// Package schedule runs the periodic refresh of every allow-listed city as a
// Temporal cron schedule.
package schedule

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// WorkflowName is the registered name of RefreshWorkflow.
const WorkflowName = "RefreshWorkflow"

const (
	// A city job runs Pass A and every Pass-B batch inside one activity.
	triggerActivityTimeout = 2 * time.Hour
	triggerMaxAttempts     = 2
)

// RefreshInput selects the cities a refresh covers.
type RefreshInput struct {
	Cities    []string `json:"cities"`
	WriteBack bool     `json:"write_back"`
}

// RefreshResult reports what happened per city, in input order.
type RefreshResult struct {
	Cities    []CityResult `json:"cities"`
	Completed int          `json:"completed"`
	Refused   int          `json:"refused"`
	Failed    int          `json:"failed"`
}

// RefreshWorkflow triggers a scheduled refresh for each city in turn. A
// refused or failed city does not stop the cities after it.
func RefreshWorkflow(ctx workflow.Context, in RefreshInput) (*RefreshResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("schedule: refresh started", "cities", len(in.Cities), "write_back", in.WriteBack)

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: triggerActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    triggerMaxAttempts,
		},
	})

	var acts *Activities
	res := &RefreshResult{}
	for _, city := range in.Cities {
		var out CityResult
		err := workflow.ExecuteActivity(actCtx, acts.TriggerCity, TriggerCityInput{
			City:      city,
			WriteBack: in.WriteBack,
		}).Get(ctx, &out)
		if err != nil {
			logger.Error("schedule: city trigger failed", "city", city, "error", err)
			out = CityResult{City: city, Error: err.Error()}
		}

		switch {
		case out.Error != "":
			res.Failed++
		case out.Refused != "":
			res.Refused++
		default:
			res.Completed++
		}
		res.Cities = append(res.Cities, out)
	}

	logger.Info("schedule: refresh finished",
		"completed", res.Completed, "refused", res.Refused, "failed", res.Failed)
	return res, nil
}
