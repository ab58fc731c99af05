package schedule

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
)

// ScheduleID identifies the refresh schedule; creating it twice is a no-op.
const ScheduleID = "venue-fusion-refresh"

// EnsureSchedule creates the cron schedule that starts RefreshWorkflow for
// cities. It reports whether a new schedule was created.
func EnsureSchedule(ctx context.Context, sc client.ScheduleClient, cfg config.TemporalConfig, cities []string) (bool, error) {
	if cfg.Cron == "" {
		return false, eris.New("schedule: temporal.cron is required")
	}
	if len(cities) == 0 {
		return false, eris.New("schedule: no cities to refresh")
	}

	_, err := sc.Create(ctx, client.ScheduleOptions{
		ID: ScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cfg.Cron},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        ScheduleID + "-run",
			Workflow:  WorkflowName,
			Args:      []any{RefreshInput{Cities: cities, WriteBack: cfg.WriteBack}},
			TaskQueue: cfg.TaskQueue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		zap.L().Info("schedule: refresh schedule already registered", zap.String("id", ScheduleID))
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "schedule: create")
	}

	zap.L().Info("schedule: refresh schedule created",
		zap.String("id", ScheduleID),
		zap.String("cron", cfg.Cron),
		zap.Strings("cities", cities),
	)
	return true, nil
}

// NewWorker registers the workflow and activities on the task queue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(RefreshWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivity(acts)
	return w
}
