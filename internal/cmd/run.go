package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jobexec/internal/app"
	"jobexec/internal/job"
	logx "jobexec/pkg/logx"
)

var runCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Run one job and print its status",
	Long: `Submit a job, wait for it to finish and print the resulting status.

Properties are given as key=value pairs. Values that parse as JSON (numbers,
booleans, lists, objects) are passed typed; anything else is a string.

Examples:
  jobexec run sleep --prop duration=2s --prop steps=4
  jobexec run log --id ops/hello --prop message=hi --json
  jobexec run sequence --prop 'steps=[{"type":"log"},{"type":"fail"}]'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("id", "", "Job id (slash separated); empty runs an ephemeral job")
	runCmd.Flags().StringArrayP("prop", "p", nil, "Request property key=value (repeatable)")
	runCmd.Flags().String("group", "", "Group path; jobs in the same group run one at a time")
	runCmd.Flags().Duration("timeout", 0, "Interrupt the job after this long (0 = no limit)")
	runCmd.Flags().Bool("yes", false, "Answer every question the job asks")
	runCmd.Flags().Bool("json", false, "Output the full status as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	autoAnswer, _ := cmd.Flags().GetBool("yes")

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}

	st, runErr := runOne(cmd.Context(), a, args[0], req, timeout, autoAnswer)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, app.StopCommand); err != nil && runErr == nil {
		runErr = err
	}
	if st == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeStatusJSON(out, st); err != nil {
			return err
		}
	} else {
		writeStatus(out, st)
	}
	if runErr != nil {
		return runErr
	}
	if msg := st.Err(); msg != "" {
		return fmt.Errorf("job %s failed: %s", args[0], msg)
	}
	return nil
}

// runOne submits the job and waits for it. On timeout the job is left to
// the executor shutdown, which interrupts it.
func runOne(ctx context.Context, a *app.App, jobType string, req job.Request, timeout time.Duration, autoAnswer bool) (*job.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	events, unsub := a.Bus().Subscribe(64)
	defer unsub()

	j, err := a.Executor().Submit(ctx, jobType, req)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		select {
		case <-j.Status().Done():
			return j.Status(), nil
		case <-waitCtx.Done():
			return j.Status(), fmt.Errorf("job %s: %w", jobType, waitCtx.Err())
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if autoAnswer && e.Type == job.EventQuestion && e.Source == j.Instance() {
				ev, _ := e.Data.(job.Event)
				a.Logger().Info("answering question", logx.Any("question", ev.Question))
				j.Status().Answered()
			}
		}
	}
}

func requestFromFlags(cmd *cobra.Command) (job.Request, error) {
	id, _ := cmd.Flags().GetString("id")
	props, _ := cmd.Flags().GetStringArray("prop")
	group, _ := cmd.Flags().GetString("group")

	req := job.Request{ID: job.ParseID(id)}
	for _, kv := range props {
		k, v, err := parseProperty(kv)
		if err != nil {
			return job.Request{}, err
		}
		req = req.WithProperty(k, v)
	}
	if g := strings.TrimSpace(group); g != "" {
		req = req.WithProperty("group", g)
	}
	return req, nil
}

// parseProperty splits key=value. JSON values keep their type.
func parseProperty(kv string) (string, any, error) {
	k, v, ok := strings.Cut(kv, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", nil, fmt.Errorf("invalid property %q (want key=value)", kv)
	}
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil && decoded != nil {
		return k, decoded, nil
	}
	return k, v, nil
}
