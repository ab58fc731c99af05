package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-fusion/internal/governor"
	"github.com/sells-group/venue-fusion/internal/model"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset the spend governor's circuit breaker",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker state and today's spend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gov := governor.New(st, cfg.Governor)
		state, err := gov.State(ctx)
		if err != nil {
			return eris.Wrap(err, "breaker status")
		}
		spend, err := gov.DailySpend(ctx)
		if err != nil {
			return eris.Wrap(err, "breaker status")
		}
		formatBreaker(os.Stdout, state, spend, gov.Cap())
		return nil
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Close a tripped breaker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		operator, _ := cmd.Flags().GetString("operator")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, err := governor.New(st, cfg.Governor).ResetBreaker(ctx, operator)
		if err != nil {
			return eris.Wrap(err, "breaker reset")
		}
		formatBreaker(os.Stdout, state, 0, 0)
		return nil
	},
}

func init() {
	breakerResetCmd.Flags().String("operator", "", "operator recorded on the reset (required)")
	_ = breakerResetCmd.MarkFlagRequired("operator")

	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
	rootCmd.AddCommand(breakerCmd)
}

// formatBreaker writes governor state to w. Spend is omitted when capUSD is 0.
func formatBreaker(out io.Writer, s model.GovernorState, spend, capUSD float64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Breaker:\t%s\n", breakerLabel(s.Tripped, s.ConsecutiveFailures))
	if s.TrippedAt != nil {
		_, _ = fmt.Fprintf(w, "Tripped at:\t%s\n", s.TrippedAt.Format(time.RFC3339))
	}
	if s.ResetBy != "" {
		_, _ = fmt.Fprintf(w, "Last reset:\t%s", s.ResetBy)
		if s.ResetAt != nil {
			_, _ = fmt.Fprintf(w, " at %s", s.ResetAt.Format(time.RFC3339))
		}
		_, _ = fmt.Fprintln(w)
	}
	if capUSD > 0 {
		_, _ = fmt.Fprintf(w, "Daily spend:\t$%.2f / $%.2f\n", spend, capUSD)
	}
	_ = w.Flush()
}
