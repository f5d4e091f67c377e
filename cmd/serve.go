package main

import (
	"github.com/spf13/cobra"

	cmdserver "llmstreambench/cmd/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the benchmark server",
	Long: `Run the benchmark API server. It is configured from the environment
(PORT, GIN_MODE, MODELS_FILE, HISTORY_FILE, CORS_ORIGIN, ...) and stops on
SIGINT or SIGTERM.`,
	// The server has its own environment based configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdserver.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
