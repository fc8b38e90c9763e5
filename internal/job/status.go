package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobexec/internal/job/progress"
	logx "jobexec/pkg/logx"
)

// Status is the observable record of a job: state, dates, log and progress.
//
// A Status only captures log and progress events while its job is running
// (the listening window). Events outside that window are dropped.
type Status struct {
	mu sync.Mutex

	jobType      string
	request      Request
	serializable bool

	state     State
	startDate time.Time
	endDate   time.Time
	logs      []LogEvent
	err       string
	listening bool

	question any
	answered chan struct{}
	parent   *Status

	progress *progress.Tracker

	done     chan struct{}
	doneOnce sync.Once

	notify func(kind string, ev Event)
}

// NewStatus returns a status in state NONE.
func NewStatus(jobType string, req Request, log logx.Logger) *Status {
	return &Status{
		jobType:  jobType,
		request:  req,
		progress: progress.New(log),
		done:     make(chan struct{}),
	}
}

func (s *Status) Type() string { return s.jobType }

func (s *Status) Request() Request { return s.request }

func (s *Status) ID() ID { return s.request.ID }

func (s *Status) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Status) StartDate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startDate
}

func (s *Status) EndDate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endDate
}

// Err is the recorded body failure, empty on success.
func (s *Status) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Logs returns a copy of the log queue in insertion order.
func (s *Status) Logs() []LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEvent, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Status) Progress() *progress.Tracker { return s.progress }

// Question is the pending question, nil when none.
func (s *Status) Question() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.question
}

// Parent is the status of the job this one runs inside of, or nil.
func (s *Status) Parent() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parent
}

// Serializable reports whether the durable write may run asynchronously.
func (s *Status) Serializable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serializable
}

// Done is closed once the status reaches FINISHED.
func (s *Status) Done() <-chan struct{} { return s.done }

// Join blocks until the job is FINISHED or ctx is done. Giving up on ctx has
// no effect on the job.
func (s *Status) Join(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Finished wins over an expired ctx.
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinTimeout reports whether the job finished within d.
func (s *Status) JoinTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Join(ctx) == nil
}

// Ask publishes question and blocks until Answered is called or ctx is done.
// The state goes RUNNING -> WAITING -> RUNNING. A sub-job forwards the
// question to its parent.
func (s *Status) Ask(ctx context.Context, question any) error {
	if p := s.Parent(); p != nil {
		return p.Ask(ctx, question)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !canTransition(s.state, StateWaiting) {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: ask while %s", ErrInvalidTransition, st)
	}
	ch := make(chan struct{})
	s.state = StateWaiting
	s.question = question
	s.answered = ch
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(EventQuestion, Event{State: StateWaiting, Question: question})
	}

	var err error
	select {
	case <-ch:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	if s.answered == ch {
		s.answered = nil
		s.question = nil
	}
	if s.state == StateWaiting {
		s.state = StateRunning
	}
	s.mu.Unlock()
	return err
}

// Answered clears the pending question and wakes the asking job. It is a
// no-op when nothing is pending.
func (s *Status) Answered() {
	if p := s.Parent(); p != nil {
		p.Answered()
		return
	}

	s.mu.Lock()
	ch := s.answered
	if ch == nil {
		s.mu.Unlock()
		return
	}
	s.answered = nil
	s.question = nil
	if s.state == StateWaiting {
		s.state = StateRunning
	}
	notify := s.notify
	s.mu.Unlock()

	close(ch)
	if notify != nil {
		notify(EventAnswered, Event{State: StateRunning})
	}
}

// Log appends an entry to the log queue. It reports false when the event
// arrived outside the listening window and was dropped.
func (s *Status) Log(level logx.Level, msg string, err error) bool {
	ev := LogEvent{Time: time.Now(), Level: level.String(), Message: msg}
	if err != nil {
		ev.Error = err.Error()
	}

	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return false
	}
	s.logs = append(s.logs, ev)
	st := s.state
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(EventLog, Event{State: st, Message: ev.Message, Level: ev.Level, Error: ev.Error})
	}
	return true
}

func (s *Status) PushLevel(steps int, source string) error {
	return s.onProgress(func(t *progress.Tracker) error { return t.PushLevel(steps, source) })
}

func (s *Status) Step(message string) error {
	return s.onProgress(func(t *progress.Tracker) error { return t.Step(message) })
}

func (s *Status) StartStep(message string) error {
	return s.onProgress(func(t *progress.Tracker) error { return t.StartStep(message) })
}

func (s *Status) EndStep() error {
	return s.onProgress(func(t *progress.Tracker) error { return t.EndStep() })
}

func (s *Status) PopLevel(source string) error {
	return s.onProgress(func(t *progress.Tracker) error { return t.PopLevel(source) })
}

func (s *Status) onProgress(fn func(*progress.Tracker) error) error {
	s.mu.Lock()
	listening := s.listening
	st := s.state
	notify := s.notify
	s.mu.Unlock()
	if !listening {
		return nil
	}
	if err := fn(s.progress); err != nil {
		return err
	}
	if notify != nil {
		notify(EventProgress, Event{State: st, Offset: s.progress.Offset()})
	}
	return nil
}

func (s *Status) setParent(p *Status) {
	s.mu.Lock()
	s.parent = p
	s.mu.Unlock()
}

// start moves NONE -> RUNNING and opens the listening window.
func (s *Status) start(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNone {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, s.state)
	}
	s.state = StateRunning
	s.startDate = now
	s.listening = true
	return nil
}

// fail records a body failure as the status error and as an error log entry.
func (s *Status) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err.Error()
	s.mu.Unlock()
	if !s.Log(logx.LevelError, "job failed", err) {
		s.mu.Lock()
		s.logs = append(s.logs, LogEvent{Time: time.Now(), Level: logx.LevelError.String(), Message: "job failed", Error: err.Error()})
		s.mu.Unlock()
	}
}

// finish closes the listening window, moves to FINISHED and wakes joiners.
func (s *Status) finish(now time.Time) {
	s.mu.Lock()
	s.endDate = now
	s.listening = false
	s.state = StateFinished
	s.question = nil
	pending := s.answered
	s.answered = nil
	s.mu.Unlock()

	if pending != nil {
		close(pending)
	}
	s.progress.Finish()
	s.doneOnce.Do(func() { close(s.done) })
}
