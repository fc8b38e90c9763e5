package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobexec/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until interrupted",
	Long: `Start the executor and the scheduler and keep running until SIGINT or
SIGTERM. Config changes are picked up without a restart where possible.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "Maximum time to wait for running jobs on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-ctx.Done():
		reason = app.StopCommand
	case <-a.Done():
		reason = app.StopFatalError
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}
