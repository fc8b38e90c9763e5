package job

import "time"

// Event types published on the bus. The event Source is the job instance id.
const (
	EventStarted  = "job.started"
	EventFinished = "job.finished"
	EventProgress = "job.progress"
	EventLog      = "job.log"
	EventQuestion = "job.question"
	EventAnswered = "job.answered"
)

// Event is the payload of every job.* bus event.
type Event struct {
	Instance string    `json:"instance"`
	JobType  string    `json:"job_type"`
	ID       string    `json:"id,omitempty"`
	Group    string    `json:"group,omitempty"`
	State    State     `json:"state"`
	Time     time.Time `json:"time"`

	Offset   float64 `json:"offset,omitempty"`
	Message  string  `json:"message,omitempty"`
	Level    string  `json:"level,omitempty"`
	Error    string  `json:"error,omitempty"`
	Question any     `json:"question,omitempty"`
}

// LogEvent is one entry of a job's log queue.
type LogEvent struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}
