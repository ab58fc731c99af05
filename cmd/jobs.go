package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/monitoring"
	"github.com/sells-group/venue-fusion/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect research job history",
	Long:  "Commands for listing, viewing, and summarizing research jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		city, _ := cmd.Flags().GetString("city")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			City:   city,
			Status: model.JobStatus(status),
			Limit:  limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("unknown status %q", status)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics and governor state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours < 1 {
			hours = 1
		}

		snap, err := monitoring.NewCollector(st, cfg.Governor.DailySpendCapUSD).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}
		formatJobStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by job status (QUEUED, COMPLETE, ERROR, ...)")
	jobsListCmd.Flags().String("city", "", "filter by city")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.ResearchJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCITY\tSTATUS\tREASON\tCOST\tUNRESOLVED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t----\t----------\t-------")

	for i := range jobs {
		j := &jobs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.2f\t%d/%d\t%s\n",
			truncateID(j.ID),
			j.City,
			j.Status,
			j.Reason,
			j.Usage.Cost,
			j.UnresolvedCount,
			j.ResolvedCount+j.UnresolvedCount,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatJobStats writes a snapshot summary to w.
func formatJobStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total jobs:\t%d\n", s.JobsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.JobsComplete)
	_, _ = fmt.Fprintf(w, "Error:\t%d\n", s.JobsError)
	_, _ = fmt.Fprintf(w, "Validation failed:\t%d\n", s.JobsValidation)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", s.JobsActive)
	_, _ = fmt.Fprintf(w, "Spend:\t$%.2f\n", s.SpendUSD)
	_, _ = fmt.Fprintf(w, "Mean unresolved:\t%.3f\n", s.MeanUnresolved)
	_, _ = fmt.Fprintf(w, "Conflicts:\t%d\n", s.Conflicts)
	_, _ = fmt.Fprintf(w, "Pending review:\t%d\n", s.PendingReview)
	_, _ = fmt.Fprintf(w, "Daily spend:\t$%.2f / $%.2f\n", s.DailySpendUSD, s.DailyCapUSD)
	_, _ = fmt.Fprintf(w, "Breaker:\t%s\n", breakerLabel(s.BreakerTripped, s.ConsecutiveFailures))

	if len(s.Cities) > 0 {
		cities := make([]string, 0, len(s.Cities))
		for c := range s.Cities {
			cities = append(cities, c)
		}
		sort.Strings(cities)
		_, _ = fmt.Fprintln(w, "\nCITY\tJOBS\tLATEST\tTRAILING")
		for _, c := range cities {
			h := s.Cities[c]
			_, _ = fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\n", c, h.Jobs, h.LatestUnresolvedRatio, h.TrailingMeanRatio)
		}
	}
	_ = w.Flush()
}

func breakerLabel(tripped bool, failures int) string {
	if tripped {
		return fmt.Sprintf("OPEN (%d consecutive failures)", failures)
	}
	return fmt.Sprintf("closed (%d consecutive failures)", failures)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
