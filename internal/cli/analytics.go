package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/analytics"
	"github.com/spf13/cobra"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query run performance analytics",
}

var analyticsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(database analytics.DB, since string) (interface{}, error) {
			return analytics.QueryStageDurations(database, since)
		}, func(cmd *cobra.Command, v interface{}) error {
			results := v.([]analytics.StageDuration)
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stage duration data.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tCOUNT\tAVG(m)\tP50(m)\tP95(m)")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", r.Stage, r.Count, r.Avg, r.P50, r.P95)
			}
			return w.Flush()
		})
	},
}

var analyticsGenerationCmd = &cobra.Command{
	Use:   "generation",
	Short: "Candidate generation success rates by stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(database analytics.DB, since string) (interface{}, error) {
			return analytics.QueryGenerationRates(database, since)
		}, func(cmd *cobra.Command, v interface{}) error {
			results := v.([]analytics.GenerationRate)
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No generation data.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tATTEMPTS\tSUCCEEDED\tFAILED\tRETRIED")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\n",
					r.Stage, r.Attempts, r.Succeeded, r.Failed, r.RetryPct)
			}
			return w.Flush()
		})
	},
}

var analyticsScoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Composite score distribution per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(database analytics.DB, since string) (interface{}, error) {
			return analytics.QueryScoreStats(database, since)
		}, func(cmd *cobra.Command, v interface{}) error {
			results := v.([]analytics.ScoreStats)
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No score data.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tCOUNT\tAVG\tP50\tP95\tBEST")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
					r.Stage, r.Count, r.Avg, r.P50, r.P95, r.Best)
			}
			return w.Flush()
		})
	},
}

var analyticsThroughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Weekly run throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(database analytics.DB, since string) (interface{}, error) {
			return analytics.QueryThroughput(database, since)
		}, func(cmd *cobra.Command, v interface{}) error {
			results := v.([]analytics.Throughput)
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No throughput data.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tCREATED\tCOMPLETED\tFAILED\tCANCELLED\tAVG(h)")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\n",
					r.Period, r.Created, r.Completed, r.Failed, r.Cancelled, r.AvgDuration)
			}
			return w.Flush()
		})
	},
}

var analyticsRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Full event timeline for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := analytics.QueryRunDetail(database, args[0])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd, events)
		}

		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events for this run.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tTYPE\tEVENT\tSTAGE\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Type, e.Event, e.Stage, e.Detail)
		}
		return w.Flush()
	},
}

func withAnalyticsDB(
	cmd *cobra.Command,
	query func(analytics.DB, string) (interface{}, error),
	render func(*cobra.Command, interface{}) error,
) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	since, _ := cmd.Flags().GetString("since")
	results, err := query(database, since)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		return printJSON(cmd, results)
	}
	return render(cmd, results)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{
		analyticsStageDurationCmd,
		analyticsGenerationCmd,
		analyticsScoresCmd,
		analyticsThroughputCmd,
	} {
		c.Flags().String("since", "", "Only include events on or after this timestamp (e.g. 2026-01-01)")
		c.Flags().String("format", "text", "Output format: text or json")
		analyticsCmd.AddCommand(c)
	}
	analyticsRunCmd.Flags().String("format", "text", "Output format: text or json")
	analyticsCmd.AddCommand(analyticsRunCmd)
}
