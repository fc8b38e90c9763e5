package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"jobexec/internal/app"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List registered job types",
	RunE:  runTypes,
}

func init() {
	rootCmd.AddCommand(typesCmd)
	typesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runTypes(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return withApp(cmd, func(_ context.Context, a *app.App) error {
		types := a.Executor().Types().Types()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), types)
		}
		for _, t := range types {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	})
}
