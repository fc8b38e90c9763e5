package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jobexec/internal/app"
	"jobexec/internal/job"
	logx "jobexec/pkg/logx"
)

var errStatusNotFound = errors.New("status not found")

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect stored job statuses",
	Long: `Read, list and remove job statuses from the configured status store.

Only jobs submitted with an id are stored. Ids are slash separated
(e.g. "backup/nightly"); list patterns use doublestar globs
(e.g. "backup/**").`,
}

var statusGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatusGet,
}

var statusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored statuses",
	RunE:  runStatusList,
}

var statusRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove statuses",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatusRm,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.AddCommand(statusGetCmd)
	statusCmd.AddCommand(statusListCmd)
	statusCmd.AddCommand(statusRmCmd)

	statusGetCmd.Flags().Bool("json", false, "Output as JSON")
	statusListCmd.Flags().String("match", "**", "Doublestar pattern over status ids")
	statusListCmd.Flags().Bool("json", false, "Output as JSON")
}

// withApp opens the app, runs fn and stops it again. Jobs are not started.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, a)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, app.StopCommand); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runStatusGet(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	id := job.ParseID(args[0])
	if id.IsZero() {
		return fmt.Errorf("id is required")
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		st, err := a.StatusStore().Get(ctx, id)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("%w: %s", errStatusNotFound, id)
		}
		if jsonOutput {
			return writeStatusJSON(cmd.OutOrStdout(), st)
		}
		writeStatus(cmd.OutOrStdout(), st)
		return nil
	})
}

func runStatusList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	pattern, _ := cmd.Flags().GetString("match")

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		ids, err := a.StatusStore().Find(ctx, strings.TrimSpace(pattern))
		if err != nil {
			return err
		}
		rows := make([]statusSummary, 0, len(ids))
		for _, id := range ids {
			st, err := a.StatusStore().Get(ctx, id)
			if err != nil {
				a.Logger().Warn("status unreadable", logx.String("id", id.String()), logx.Err(err))
				continue
			}
			if st == nil {
				continue
			}
			rows = append(rows, summarize(st))
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, rows)
		}
		if len(rows) == 0 {
			_, _ = fmt.Fprintln(out, "No statuses found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		defer func() { _ = w.Flush() }()
		_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATE\tSTARTED\tDURATION\tPROGRESS\tERROR")
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
				r.ID,
				r.Type,
				r.State,
				formatOptionalTime(r.StartDate),
				formatDuration(r.StartDate, r.EndDate),
				r.Progress*100,
				orDash(r.Error),
			)
		}
		return nil
	})
}

func runStatusRm(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var errs []error
		for _, raw := range args {
			id := job.ParseID(raw)
			if id.IsZero() {
				errs = append(errs, fmt.Errorf("invalid id %q", raw))
				continue
			}
			if err := a.StatusStore().Remove(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				continue
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
		}
		return errors.Join(errs...)
	})
}
