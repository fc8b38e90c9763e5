// Package cmd implements the jobexec command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"jobexec/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "jobexec",
	Short: "Run and inspect jobs",
	Long: `jobexec runs typed jobs with progress tracking, per-group ordering and
a durable status store.

Without --config, statuses are kept in memory and vanish on exit. Point
--config at a YAML or JSON file to select a durable storage driver and
define schedules.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (trace, debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openApp builds the app from the persistent flags. Logs go to stderr so
// command output on stdout stays parseable.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	return app.Open(cfgPath, app.WithLogOutput(os.Stderr), app.WithLogLevel(level))
}
