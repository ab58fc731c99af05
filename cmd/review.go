package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the review queue of withheld writes",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List results pending review for a city",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		city, _ := cmd.Flags().GetString("city")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := review.NewQueue(st, nil, nil).List(ctx, city, limit)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing pending review.")
			return nil
		}
		formatReviewList(os.Stdout, results)
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <result-id>",
	Short: "Approve a withheld result and apply its write",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideReview(cmd, args[0], true)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <result-id>",
	Short: "Reject a withheld result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideReview(cmd, args[0], false)
	},
}

var reviewExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pending review items to the Notion review database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		city, _ := cmd.Flags().GetString("city")
		if cfg.Notion.Token == "" {
			return eris.New("notion token is required (FUSION_NOTION_TOKEN)")
		}
		if cfg.Review.NotionDB == "" {
			return eris.New("notion review DB ID is required (FUSION_REVIEW_NOTION_DB)")
		}

		env, err := initFusion(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		pending, err := env.Review.List(ctx, city, 0)
		if err != nil {
			return eris.Wrap(err, "review export")
		}

		created, err := review.NewNotionExporter(env.Notion, cfg.Review.NotionDB).Export(ctx, pending)
		if err != nil {
			return eris.Wrap(err, "review export")
		}
		zap.L().Info("review export complete",
			zap.String("city", city),
			zap.Int("pending", len(pending)),
			zap.Int("created", created),
		)
		return nil
	},
}

func init() {
	reviewListCmd.Flags().String("city", "", "city to list (required)")
	reviewListCmd.Flags().Int("limit", 100, "max number of results to display")
	_ = reviewListCmd.MarkFlagRequired("city")

	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		c.Flags().String("reviewer", "", "reviewer recorded on the decision")
	}

	reviewExportCmd.Flags().String("city", "", "city to export (required)")
	_ = reviewExportCmd.MarkFlagRequired("city")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewExportCmd)
	rootCmd.AddCommand(reviewCmd)
}

func decideReview(cmd *cobra.Command, id string, approve bool) error {
	ctx := cmd.Context()
	reviewer, _ := cmd.Flags().GetString("reviewer")

	env, err := initFusion(ctx, "store")
	if err != nil {
		return err
	}
	defer env.Close()

	var res *model.CrossReferenceResult
	if approve {
		res, err = env.Review.Approve(ctx, id, reviewer)
	} else {
		res, err = env.Review.Reject(ctx, id, reviewer)
	}
	if err != nil {
		return eris.Wrapf(err, "review %s", id)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// formatReviewList writes pending results as a table.
func formatReviewList(out io.Writer, results []model.CrossReferenceResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVENUE\tPROVENANCE\tMERGED\tDELTA\tCOMPUTED")
	_, _ = fmt.Fprintln(w, "--\t-----\t----------\t------\t-----\t--------")
	for i := range results {
		r := &results[i]
		name := r.VenueName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%+.3f\t%s\n",
			r.ID,
			name,
			r.Provenance,
			r.MergedScore,
			r.ScoreDelta,
			r.ComputedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
