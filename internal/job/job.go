package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobexec/internal/eventbus"
	logx "jobexec/pkg/logx"
)

// Body is the work of a job. Failures are returned (or panicked) and end up
// in the job status; they never escape Run.
type Body func(ctx context.Context, j *Job) error

// StatusSaver persists finished statuses.
type StatusSaver interface {
	Store(ctx context.Context, st *Status, async bool) error
}

// progressWarnings throttles progress protocol warnings across all jobs.
var progressWarnings = logx.NewSampler(5, 20)

// Job is one unit of asynchronous work with identity, request and lifecycle.
type Job struct {
	instance string
	jobType  string
	request  Request
	group    GroupPath
	body     Body

	status *Status

	bus   eventbus.Bus
	saver StatusSaver
	log   logx.Logger
	base  logx.Logger

	ran atomic.Bool
}

type Option func(*Job)

func WithBus(b eventbus.Bus) Option { return func(j *Job) { j.bus = b } }

func WithSaver(s StatusSaver) Option { return func(j *Job) { j.saver = s } }

func WithLogger(l logx.Logger) Option { return func(j *Job) { j.log = l } }

// WithGroup makes the job a grouped job serialized on g.
func WithGroup(g GroupPath) Option {
	return func(j *Job) { j.group = append(GroupPath(nil), g...) }
}

// WithSerializable lets the status store persist the status asynchronously.
func WithSerializable(v bool) Option {
	return func(j *Job) { j.status.serializable = v }
}

// New builds a job in state NONE.
func New(jobType string, req Request, body Body, opts ...Option) *Job {
	j := &Job{
		instance: uuid.New().String(),
		jobType:  jobType,
		request:  req,
		body:     body,
	}
	// Options may touch the status, so build it first with a placeholder logger.
	j.status = NewStatus(jobType, req, logx.Nop())
	for _, o := range opts {
		if o != nil {
			o(j)
		}
	}
	j.base = j.log
	j.log = j.log.With(
		logx.String("job", jobType),
		logx.String("instance", j.instance),
		logx.String("id", req.ID.String()),
	)
	j.status.progress = newTracker(j.log)
	j.status.notify = j.publishStatus
	return j
}

// Instance is the unique id of this job object.
func (j *Job) Instance() string { return j.instance }

func (j *Job) Type() string { return j.jobType }

func (j *Job) Request() Request { return j.request }

func (j *Job) ID() ID { return j.request.ID }

// Group is the job's group path, nil for ungrouped jobs.
func (j *Job) Group() GroupPath { return j.group }

func (j *Job) Status() *Status { return j.status }

func (j *Job) Logger() logx.Logger { return j.log }

// SubJobOptions wires a job that runs inside j to the same bus and logger.
// Sub-jobs are not persisted on their own.
func (j *Job) SubJobOptions() []Option {
	return []Option{
		WithBus(j.bus),
		WithLogger(j.base.With(logx.String("parent", j.instance))),
	}
}

func (j *Job) Join(ctx context.Context) error { return j.status.Join(ctx) }

func (j *Job) JoinTimeout(d time.Duration) bool { return j.status.JoinTimeout(d) }

// Run executes the job body on the calling goroutine and always leaves the
// status FINISHED. A job runs at most once.
//
// If ctx already carries a running job, this job becomes its sub-job:
// questions are forwarded to the parent status.
func (j *Job) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !j.ran.CompareAndSwap(false, true) {
		j.log.Warn("job already ran")
		return
	}
	if parent := Current(ctx); parent != nil {
		j.status.setParent(parent.status)
	}
	ctx = push(ctx, j)

	st := j.status
	start := time.Now()
	if err := st.start(start); err != nil {
		j.log.Error("job start rejected", logx.Err(err))
		return
	}
	j.publish(EventStarted, Event{State: StateRunning})
	j.log.Debug("job started")

	err := j.invoke(ctx)
	if err != nil {
		st.fail(err)
		j.log.Warn("job failed", logx.Err(err), logx.Duration("dur", time.Since(start)))
	}

	st.finish(time.Now())
	j.publish(EventFinished, Event{State: StateFinished, Error: st.Err(), Offset: st.progress.Offset()})
	j.log.Debug("job finished", logx.Duration("dur", time.Since(start)))

	j.persist(ctx)
}

func (j *Job) invoke(ctx context.Context) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("job: interrupted before start: %w", cerr)
	}
	if j.body == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("job.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.body(ctx, j)
}

func (j *Job) persist(ctx context.Context) {
	if j.saver == nil {
		return
	}
	if err := j.saver.Store(context.WithoutCancel(ctx), j.status, true); err != nil {
		j.log.Sampled(progressWarnings).Warn("job status persist failed", logx.Err(err))
	}
}

func (j *Job) publishStatus(kind string, ev Event) { j.publish(kind, ev) }

func (j *Job) publish(kind string, ev Event) {
	if j.bus == nil {
		return
	}
	ev.Instance = j.instance
	ev.JobType = j.jobType
	ev.ID = j.request.ID.String()
	ev.Group = j.group.Key()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	j.bus.Publish(eventbus.Event{Type: kind, Time: ev.Time, Source: j.instance, Data: ev})
}
