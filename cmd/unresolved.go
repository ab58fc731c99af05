package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

var unresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "Inspect and retry research signals that matched no venue",
}

var unresolvedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved signals for a city",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		city, _ := cmd.Flags().GetString("city")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		signals, err := st.ListUnresolved(ctx, city)
		if err != nil {
			return eris.Wrap(err, "unresolved list")
		}
		if len(signals) == 0 {
			fmt.Fprintln(os.Stderr, "No unresolved signals.")
			return nil
		}
		formatUnresolved(os.Stdout, signals)
		return nil
	},
}

var unresolvedRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-resolve queued signals against the current venue list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		city, _ := cmd.Flags().GetString("city")

		env, err := initFusion(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		resolved, err := env.Orchestrator.RetryUnresolved(ctx, city)
		if err != nil {
			return eris.Wrap(err, "unresolved retry")
		}
		zap.L().Info("unresolved retry complete", zap.String("city", city), zap.Int("resolved", resolved))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{unresolvedListCmd, unresolvedRetryCmd} {
		c.Flags().String("city", "", "city (required)")
		_ = c.MarkFlagRequired("city")
		unresolvedCmd.AddCommand(c)
	}
	rootCmd.AddCommand(unresolvedCmd)
}

func formatUnresolved(out io.Writer, signals []model.UnresolvedResearchSignal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tNORMALIZED\tJOB\tATTEMPTS\tLAST_ATTEMPT")
	_, _ = fmt.Fprintln(w, "----\t----------\t---\t--------\t------------")
	for _, s := range signals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.RawName,
			s.NormalizedName,
			truncateID(s.JobID),
			s.Attempts,
			s.LastAttemptAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
