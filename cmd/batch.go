package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/research"
)

var (
	batchCities    []string
	batchLimit     int
	batchReason    string
	batchWriteBack bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run research jobs for several cities concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reason := model.TriggerReason(batchReason)
		if !reason.Valid() {
			return eris.Errorf("unknown trigger reason %q", batchReason)
		}

		cities := batchCities
		if len(cities) == 0 {
			cities = cfg.Governor.KnownCities
		}

		env, err := initFusion(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		_, err = processBatch(ctx, cities, batchLimit, cfg.Batch.MaxConcurrentCities, func(ctx context.Context, city string) (*research.Outcome, error) {
			return env.Orchestrator.Trigger(ctx, research.TriggerRequest{
				City:      city,
				Reason:    reason,
				WriteBack: batchWriteBack,
			})
		})
		return err
	},
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchCities, "cities", nil, "cities to research (default governor.known_cities)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of cities to process (0 means all)")
	batchCmd.Flags().StringVar(&batchReason, "reason", string(model.TriggerScheduledRefresh), "trigger reason applied to every city")
	batchCmd.Flags().BoolVar(&batchWriteBack, "write-back", false, "apply merged research fields to venues")
	rootCmd.AddCommand(batchCmd)
}

// triggerFunc runs one city's job.
type triggerFunc func(ctx context.Context, city string) (*research.Outcome, error)

// batchSummary counts how each city in a batch ended.
type batchSummary struct {
	Completed int64
	Refused   int64
	Failed    int64
}

// processBatch applies limit, then triggers cities concurrently. A failing
// city never aborts the others.
func processBatch(ctx context.Context, cities []string, limit, concurrency int, trigger triggerFunc) (batchSummary, error) {
	var sum batchSummary
	if len(cities) == 0 {
		zap.L().Info("no cities to process")
		return sum, nil
	}
	if limit > 0 && len(cities) > limit {
		cities = cities[:limit]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("cities", len(cities)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var completed, refused, failed atomic.Int64

	for _, city := range cities {
		g.Go(func() error {
			log := zap.L().With(zap.String("city", city))

			out, err := trigger(gctx, city)
			switch {
			case err != nil && research.RefusalReason(err) != "":
				refused.Add(1)
				log.Warn("job refused", zap.String("reason", research.RefusalReason(err)))
			case err != nil:
				failed.Add(1)
				log.Error("job failed", zap.Error(err))
			case out == nil || out.Job == nil || out.Job.Status != model.JobStatusComplete:
				failed.Add(1)
				if out != nil && out.Job != nil {
					log.Error("job did not complete",
						zap.String("job_id", out.Job.ID),
						zap.String("status", string(out.Job.Status)),
						zap.String("error", out.Job.Error),
					)
				}
			default:
				completed.Add(1)
				log.Info("job complete",
					zap.String("job_id", out.Job.ID),
					zap.Float64("cost", out.Job.Usage.Cost),
					zap.Int("applied", out.Job.AppliedCount),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "batch processing")
	}

	sum = batchSummary{Completed: completed.Load(), Refused: refused.Load(), Failed: failed.Load()}
	zap.L().Info("batch complete",
		zap.Int64("completed", sum.Completed),
		zap.Int64("refused", sum.Refused),
		zap.Int64("failed", sum.Failed),
	)
	return sum, nil
}
