package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "admint",
	Short: "Generative ad production pipeline",
	Long: `admint drives ad creatives through a staged generation pipeline:
prompt enhancement, best-of-N candidate generation, quality scoring, and
final assembly into a finished video.

All state is stored in ~/.admint/ (SQLite for events, JSON for run state).
Runs are resumable: re-running a run picks up after the last completed stage.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
