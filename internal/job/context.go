package job

import (
	"context"
	"errors"
	"fmt"

	"jobexec/internal/job/progress"
	logx "jobexec/pkg/logx"
)

// ErrNoCurrentJob is returned by context helpers that need a running job.
var ErrNoCurrentJob = errors.New("job: no current job in context")

type stackKey struct{}

// frame is an immutable cons cell of the current-job stack.
type frame struct {
	job  *Job
	next *frame
}

func push(ctx context.Context, j *Job) context.Context {
	top, _ := ctx.Value(stackKey{}).(*frame)
	return context.WithValue(ctx, stackKey{}, &frame{job: j, next: top})
}

// Current returns the innermost running job carried by ctx, or nil.
func Current(ctx context.Context) *Job {
	if ctx == nil {
		return nil
	}
	if top, _ := ctx.Value(stackKey{}).(*frame); top != nil {
		return top.job
	}
	return nil
}

// Stack returns the running jobs carried by ctx, innermost first.
func Stack(ctx context.Context) []*Job {
	if ctx == nil {
		return nil
	}
	var out []*Job
	for f, _ := ctx.Value(stackKey{}).(*frame); f != nil; f = f.next {
		out = append(out, f.job)
	}
	return out
}

// CurrentStatus returns the status of the current job, or nil.
func CurrentStatus(ctx context.Context) *Status {
	if j := Current(ctx); j != nil {
		return j.status
	}
	return nil
}

// Logf appends a formatted entry to the current job's log. Outside of a job
// it does nothing.
func Logf(ctx context.Context, level logx.Level, format string, args ...any) {
	if st := CurrentStatus(ctx); st != nil {
		st.Log(level, fmt.Sprintf(format, args...), nil)
	}
}

// LogError appends an error entry to the current job's log.
func LogError(ctx context.Context, err error, msg string) {
	if st := CurrentStatus(ctx); st != nil {
		st.Log(logx.LevelError, msg, err)
	}
}

func PushLevel(ctx context.Context, steps int, source string) error {
	if st := CurrentStatus(ctx); st != nil {
		return st.PushLevel(steps, source)
	}
	return nil
}

func Step(ctx context.Context, message string) error {
	if st := CurrentStatus(ctx); st != nil {
		return st.Step(message)
	}
	return nil
}

func StartStep(ctx context.Context, message string) error {
	if st := CurrentStatus(ctx); st != nil {
		return st.StartStep(message)
	}
	return nil
}

func EndStep(ctx context.Context) error {
	if st := CurrentStatus(ctx); st != nil {
		return st.EndStep()
	}
	return nil
}

func PopLevel(ctx context.Context, source string) error {
	if st := CurrentStatus(ctx); st != nil {
		return st.PopLevel(source)
	}
	return nil
}

// Ask asks question on behalf of the current job.
func Ask(ctx context.Context, question any) error {
	st := CurrentStatus(ctx)
	if st == nil {
		return ErrNoCurrentJob
	}
	return st.Ask(ctx, question)
}

func newTracker(log logx.Logger) *progress.Tracker {
	return progress.New(log.Sampled(progressWarnings))
}
