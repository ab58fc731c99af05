package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/research"
)

var (
	runCity       string
	runReason     string
	runWriteBack  bool
	runDiffReport bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a research job for one city",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reason := model.TriggerReason(runReason)
		if !reason.Valid() {
			return eris.Errorf("unknown trigger reason %q", runReason)
		}

		env, err := initFusion(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Orchestrator.Trigger(ctx, research.TriggerRequest{
			City:       runCity,
			Reason:     reason,
			WriteBack:  runWriteBack,
			DiffReport: runDiffReport,
		})
		if err != nil {
			return eris.Wrapf(err, "run %s", runCity)
		}
		if err := printOutcome(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		return outcomeErr(out)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume an interrupted job from its last completed step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initFusion(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Orchestrator.Resume(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "resume %s", args[0])
		}
		if err := printOutcome(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		return outcomeErr(out)
	},
}

func init() {
	runCmd.Flags().StringVar(&runCity, "city", "", "city to research (required)")
	runCmd.Flags().StringVar(&runReason, "reason", string(model.TriggerManualSeed), "trigger reason: manual-seed, on-demand-gap-fill or scheduled-refresh")
	runCmd.Flags().BoolVar(&runWriteBack, "write-back", false, "apply merged research fields to venues (default is dry run)")
	runCmd.Flags().BoolVar(&runDiffReport, "diff-report", false, "write an xlsx diff report for the job")
	_ = runCmd.MarkFlagRequired("city")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}

func printOutcome(w io.Writer, out *research.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// outcomeErr turns a job that ended anywhere but COMPLETE into a non-zero exit.
func outcomeErr(out *research.Outcome) error {
	if out == nil || out.Job == nil {
		return eris.New("run: no job")
	}
	job := out.Job
	zap.L().Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("city", job.City),
		zap.String("status", string(job.Status)),
		zap.Float64("cost", job.Usage.Cost),
		zap.Int("applied", job.AppliedCount),
		zap.Int("review", job.ReviewCount),
	)
	if job.Status == model.JobStatusComplete {
		return nil
	}
	if job.Error != "" {
		return eris.Errorf("job %s ended %s: %s", job.ID, job.Status, job.Error)
	}
	return eris.Errorf("job %s ended %s", job.ID, job.Status)
}
