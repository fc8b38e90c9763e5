package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobexec/internal/job"
)

// resetFlags puts every flag back to its default; commands are package
// globals and keep values between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobexec.yaml")
	body := "logging:\n  level: error\nstorage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "jobs.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseProperty(t *testing.T) {
	tests := []struct {
		in      string
		key     string
		want    any
		wantErr bool
	}{
		{in: "message=hello", key: "message", want: "hello"},
		{in: "steps=4", key: "steps", want: float64(4)},
		{in: "panic=true", key: "panic", want: true},
		{in: "duration=2s", key: "duration", want: "2s"},
		{in: "empty=", key: "empty", want: ""},
		{in: "list=[1,2]", key: "list", want: []any{float64(1), float64(2)}},
		{in: "novalue", wantErr: true},
		{in: "=x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, v, err := parseProperty(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key, k)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestRunThenInspectStatus(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "run", "log", "--id", "ops/hello", "-p", "message=hi there", "--json")
	require.NoError(t, err)
	st, err := job.DecodeStatus([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, st.State())
	require.Len(t, st.Logs(), 1)
	assert.Equal(t, "hi there", st.Logs()[0].Message)

	out, err = execute(t, "--config", cfg, "status", "list", "--match", "ops/*", "--json")
	require.NoError(t, err)
	var rows []statusSummary
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "ops/hello", rows[0].ID)
	assert.Equal(t, "log", rows[0].Type)

	out, err = execute(t, "--config", cfg, "status", "get", "ops/hello")
	require.NoError(t, err)
	assert.Contains(t, out, "FINISHED")
	assert.Contains(t, out, "hi there")

	out, err = execute(t, "--config", cfg, "status", "rm", "ops/hello")
	require.NoError(t, err)
	assert.Contains(t, out, "removed ops/hello")

	_, err = execute(t, "--config", cfg, "status", "get", "ops/hello")
	assert.True(t, errors.Is(err, errStatusNotFound), "err=%v", err)
}

func TestRunFailingJobReturnsError(t *testing.T) {
	out, err := execute(t, "--log-level", "error", "run", "fail", "-p", "message=boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, out, "boom")
}

func TestRunAnswersQuestions(t *testing.T) {
	out, err := execute(t, "--log-level", "error", "run", "ask", "--yes", "-p", "question=go?", "-p", "timeout=5s")
	require.NoError(t, err)
	assert.Contains(t, out, "answered: go?")
}

func TestRunTimeoutInterruptsJob(t *testing.T) {
	_, err := execute(t, "--log-level", "error", "run", "sleep", "-p", "duration=1m", "--timeout", "100ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestRunUnknownType(t *testing.T) {
	_, err := execute(t, "--log-level", "error", "run", "nope")
	require.Error(t, err)
}

func TestTypesListsBuiltins(t *testing.T) {
	out, err := execute(t, "--log-level", "error", "types")
	require.NoError(t, err)
	for _, want := range []string{"sleep", "log", "fail", "ask", "sequence"} {
		assert.Contains(t, strings.Fields(out), want)
	}
}

func TestRepairTwiceIsNoop(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "repair", "--json")
	require.NoError(t, err)
	var first struct {
		Skipped bool `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.False(t, first.Skipped)

	out, err = execute(t, "--config", cfg, "repair")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")
}
