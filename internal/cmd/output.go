package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"jobexec/internal/job"
)

// statusSummary is the row shape of `status list --json`.
type statusSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
}

func summarize(st *job.Status) statusSummary {
	return statusSummary{
		ID:        st.ID().String(),
		Type:      st.Type(),
		State:     st.State().String(),
		StartDate: st.StartDate(),
		EndDate:   st.EndDate(),
		Progress:  st.Progress().Offset(),
		Error:     st.Err(),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStatusJSON(w io.Writer, st *job.Status) error {
	b, err := job.EncodeStatus(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func writeStatus(w io.Writer, st *job.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := summarize(st)
	_, _ = fmt.Fprintf(tw, "ID\t%s\n", orDash(s.ID))
	_, _ = fmt.Fprintf(tw, "TYPE\t%s\n", s.Type)
	_, _ = fmt.Fprintf(tw, "STATE\t%s\n", s.State)
	_, _ = fmt.Fprintf(tw, "STARTED\t%s\n", formatOptionalTime(s.StartDate))
	_, _ = fmt.Fprintf(tw, "ENDED\t%s\n", formatOptionalTime(s.EndDate))
	_, _ = fmt.Fprintf(tw, "DURATION\t%s\n", formatDuration(s.StartDate, s.EndDate))
	_, _ = fmt.Fprintf(tw, "PROGRESS\t%.0f%%\n", s.Progress*100)
	_, _ = fmt.Fprintf(tw, "ERROR\t%s\n", orDash(s.Error))
	_ = tw.Flush()

	logs := st.Logs()
	if len(logs) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "LOGS")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, l := range logs {
		msg := l.Message
		if l.Error != "" {
			msg += ": " + l.Error
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\n", l.Time.Format("15:04:05.000"), strings.ToUpper(l.Level), msg)
	}
	_ = tw.Flush()
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func formatDuration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
