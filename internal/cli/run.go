package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage generation runs",
}

var runCreateCmd = &cobra.Command{
	Use:   "create <prompt>",
	Short: "Create a new run from a seed prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := orch.Create(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created run %s (%d stages)\n", run.ID, len(run.StageOrder))

		start, _ := cmd.Flags().GetBool("start")
		if !start {
			return nil
		}
		return executeRun(cmd, run.ID)
	},
}

var runStartCmd = &cobra.Command{
	Use:   "start <run-id>",
	Short: "Execute a run to completion",
	Long: `Execute a run from its current position. Stages that already have a
persisted result are skipped, so start doubles as resume after a crash
or cancellation request.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(cmd, args[0])
	},
}

func executeRun(cmd *cobra.Command, runID string) error {
	orch, cleanup, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := orch.Run(cmd.Context(), runID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.Status)
	if run.FinalArtifact != "" {
		fmt.Fprintf(w, "  Final artifact: %s (composite %.3f)\n", run.FinalArtifact, run.FinalScore)
	}
	return nil
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		statusFilter, _ := cmd.Flags().GetString("status")
		runs, err := store.List(statusFilter)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tSTAGE\tDONE\tPROMPT")
		for _, r := range runs {
			prompt := r.SeedPrompt
			if len(prompt) > 40 {
				prompt = prompt[:37] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				r.ID, r.Status, r.CurrentStage, len(r.StageHistory), len(r.StageOrder), prompt)
		}
		return w.Flush()
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show detailed run status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		run, err := store.Get(args[0])
		if err != nil {
			return err
		}
		results, err := store.StageResults(args[0])
		if err != nil {
			return fmt.Errorf("load stage results: %w", err)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(map[string]interface{}{
				"run":    run,
				"stages": results,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s\n", run.ID)
		fmt.Fprintf(w, "  Prompt:   %s\n", run.SeedPrompt)
		fmt.Fprintf(w, "  Status:   %s\n", run.Status)
		if run.CurrentStage != "" {
			fmt.Fprintf(w, "  Stage:    %s\n", run.CurrentStage)
		}
		if run.FailureReason != "" {
			fmt.Fprintf(w, "  Failure:  %s (at %s)\n", run.FailureReason, run.FailureStage)
		}
		if run.FinalArtifact != "" {
			fmt.Fprintf(w, "  Final:    %s (composite %.3f)\n", run.FinalArtifact, run.FinalScore)
		}
		fmt.Fprintf(w, "  Created:  %s\n", run.CreatedAt)
		fmt.Fprintf(w, "  Updated:  %s\n", run.UpdatedAt)

		if len(results) > 0 {
			fmt.Fprintln(w, "  Stages:")
			for i := range results {
				sr := &results[i]
				line := fmt.Sprintf("    %s: %s (%d candidates", sr.Stage, sr.Status, len(sr.Candidates))
				if sr.Retried {
					line += ", retried"
				}
				line += ")"
				if win := sr.WinningCandidate(); win != nil {
					line += fmt.Sprintf(" winner attempt %d composite %.3f", win.AttemptIndex, win.Composite)
				}
				fmt.Fprintln(w, line)
			}
		}
		return nil
	},
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cancellation of a run",
	Long: `Sets the cancellation flag on a run. The flag is honored at the next
stage boundary: an in-flight candidate batch always drains first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := orch.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for run %s\n", args[0])
		return nil
	},
}

var runDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its stage results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
		return nil
	},
}

func init() {
	runCmd.PersistentFlags().StringVarP(&configFile, "file", "f", "", "path to pipeline config file")
	runCmd.AddCommand(runCreateCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runCancelCmd)
	runCmd.AddCommand(runDeleteCmd)

	runCreateCmd.Flags().Bool("start", false, "Execute the run immediately after creating it")
	runListCmd.Flags().String("status", "", "Filter by status (pending, running, completed, partially_failed, failed, cancelled)")
	runStatusCmd.Flags().String("format", "text", "Output format: text or json")
}
