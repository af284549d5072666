package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tally/cmd/tally/commands"
	"github.com/teranos/tally/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "tally - financial document processing pipeline",
	Long: `tally - turns uploaded receipts and invoices into structured records.

Uploads are stored, run through OCR and structured extraction in the
background, and polled for their status over HTTP.

Available commands:
  serve      - Start the HTTP API and the background pipeline
  migrate    - Apply database migrations
  status     - Show a document's processing status
  reprocess  - Reset a finished document to pending
  config     - Show the effective configuration
  version    - Show build information

Examples:
  tally serve                      # Start on the configured port
  tally serve --config tally.toml  # Use a single config file
  tally status 3f2c9a1e-...        # Poll a document from the terminal
  tally config --format json       # Dump configuration as JSON`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: merged /etc/tally, ~/.tally and project tally.toml)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs for log shippers")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.ReprocessCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
