package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jobexec/internal/job/progress"
	logx "jobexec/pkg/logx"
)

// StatusFormatVersion is the current version of the encoded status document.
const StatusFormatVersion = 1

// ErrStatusFormat is returned for documents that cannot be decoded.
var ErrStatusFormat = errors.New("job: unsupported status format")

type statusDoc struct {
	FormatVersion int           `json:"format_version"`
	Type          string        `json:"type"`
	State         State         `json:"state"`
	Request       Request       `json:"request"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	Error         string        `json:"error,omitempty"`
	Serializable  bool          `json:"serializable,omitempty"`
	Logs          []LogEvent    `json:"logs,omitempty"`
	Progress      progress.Step `json:"progress"`
}

// EncodeStatus renders st as a versioned JSON document.
func EncodeStatus(st *Status) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("job: encode nil status")
	}
	st.mu.Lock()
	doc := statusDoc{
		FormatVersion: StatusFormatVersion,
		Type:          st.jobType,
		State:         st.state,
		Request:       st.request,
		StartDate:     st.startDate,
		EndDate:       st.endDate,
		Error:         st.err,
		Serializable:  st.serializable,
		Logs:          append([]LogEvent(nil), st.logs...),
	}
	st.mu.Unlock()
	doc.Progress = st.progress.Root()
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeStatus parses a document written by EncodeStatus. The result is a
// FINISHED status: joins return immediately and it captures no new events.
func DecodeStatus(b []byte) (*Status, error) {
	var head struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusFormat, err)
	}
	if head.FormatVersion != StatusFormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrStatusFormat, head.FormatVersion)
	}
	var doc statusDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusFormat, err)
	}

	st := NewStatus(doc.Type, doc.Request, logx.Nop())
	st.state = StateFinished
	st.startDate = doc.StartDate
	st.endDate = doc.EndDate
	st.err = doc.Error
	st.serializable = doc.Serializable
	st.logs = doc.Logs
	st.progress.Restore(doc.Progress)
	st.doneOnce.Do(func() { close(st.done) })
	return st, nil
}
