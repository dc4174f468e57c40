package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API",
	Long: `Start a local HTTP server exposing run state, stage results, and
analytics as JSON. The API is read-only; run control stays on the CLI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		server, cleanup, err := newServer(port)
		if err != nil {
			return err
		}
		defer cleanup()

		return server.Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
}
