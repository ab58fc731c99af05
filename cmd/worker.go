package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/schedule"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that executes scheduled city refreshes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initFusion(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		zap.L().Info("starting worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		w := schedule.NewWorker(c, cfg.Temporal.TaskQueue, schedule.NewActivities(env.Orchestrator))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Register the cron schedule for refreshing known cities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		created, err := schedule.EnsureSchedule(cmd.Context(), c.ScheduleClient(), cfg.Temporal, cfg.Governor.KnownCities)
		if err != nil {
			return err
		}
		if !created {
			cmd.Println("Schedule already registered.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal %s", cfg.Temporal.HostPort)
	}
	return c, nil
}
