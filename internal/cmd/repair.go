package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"jobexec/internal/app"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Relocate stored statuses to the active storage layout",
	Long: `Move records written under an older storage layout to the location the
active layout derives from their id. Unreadable records are left in place
and counted. Running repair again once the layout is recorded is a no-op.`,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)
	repairCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRepair(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		rep, err := a.StatusStore().Repair(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, rep)
		}
		if rep.Skipped {
			_, _ = fmt.Fprintf(out, "Layout %d already recorded; nothing to do\n", rep.Layout)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Layout %d: scanned %d, relocated %d, unreadable %d\n",
			rep.Layout, rep.Scanned, rep.Relocated, rep.Unreadable)
		return nil
	})
}
