// Package jobs holds the built-in job types.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobexec/internal/job"
	logx "jobexec/pkg/logx"
)

const (
	TypeSleep    = "sleep"
	TypeLog      = "log"
	TypeFail     = "fail"
	TypeAsk      = "ask"
	TypeSequence = "sequence"
)

// Register adds every built-in type to reg.
func Register(reg *job.Registry) error {
	defs := []job.Definition{
		{Type: TypeSleep, Body: sleepBody, Group: GroupFromRequest, Serializable: true},
		{Type: TypeLog, Body: logBody, Group: GroupFromRequest, Serializable: true},
		{Type: TypeFail, Body: failBody, Group: GroupFromRequest, Serializable: true},
		{Type: TypeAsk, Body: askBody, Group: GroupFromRequest},
		{Type: TypeSequence, Body: sequenceBody(reg), Group: GroupFromRequest, Serializable: true},
	}
	var errs []error
	for _, d := range defs {
		errs = append(errs, reg.Register(d))
	}
	return errors.Join(errs...)
}

// GroupFromRequest reads the "group" property ("a/b/c"). Without it the job
// is ungrouped.
func GroupFromRequest(req job.Request) job.GroupPath {
	raw := req.StringProperty("group", "")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return job.GroupPath(job.ParseID(raw))
}

// durationProperty accepts a Go duration string or a number of milliseconds.
func durationProperty(req job.Request, key string, def time.Duration) (time.Duration, error) {
	v, ok := req.Property(key)
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	case float64:
		return time.Duration(x * float64(time.Millisecond)), nil
	case int:
		return time.Duration(x) * time.Millisecond, nil
	case time.Duration:
		return x, nil
	}
	return 0, fmt.Errorf("%s: unsupported value %T", key, v)
}

// sleepBody waits "duration" split into "steps" progress steps.
func sleepBody(ctx context.Context, j *job.Job) error {
	req := j.Request()
	total, err := durationProperty(req, "duration", time.Second)
	if err != nil {
		return err
	}
	steps := req.IntProperty("steps", 10)
	if steps <= 0 {
		steps = 1
	}
	tick := total / time.Duration(steps)

	if err := job.PushLevel(ctx, steps, TypeSleep); err != nil {
		return err
	}
	t := time.NewTimer(tick)
	defer t.Stop()
	for i := 0; i < steps; i++ {
		if err := job.Step(ctx, fmt.Sprintf("%d/%d", i+1, steps)); err != nil {
			return err
		}
		t.Reset(tick)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return job.PopLevel(ctx, TypeSleep)
}

// logBody appends "message" to the job log "count" times at "level".
func logBody(ctx context.Context, j *job.Job) error {
	req := j.Request()
	msg := req.StringProperty("message", "hello")
	level := logx.ParseLevel(req.StringProperty("level", "info"), logx.LevelInfo)
	n := req.IntProperty("count", 1)
	for i := 0; i < n; i++ {
		if n > 1 {
			job.Logf(ctx, level, "%s (%d/%d)", msg, i+1, n)
		} else {
			job.Logf(ctx, level, "%s", msg)
		}
	}
	return nil
}

func failBody(ctx context.Context, j *job.Job) error {
	msg := j.Request().StringProperty("message", "requested failure")
	if j.Request().StringProperty("panic", "") == "true" {
		panic(msg)
	}
	return errors.New(msg)
}

// askBody asks "question" and waits for the answer, bounded by "timeout".
func askBody(ctx context.Context, j *job.Job) error {
	q := j.Request().StringProperty("question", "continue?")
	timeout, err := durationProperty(j.Request(), "timeout", 0)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := job.Ask(ctx, q); err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	job.Logf(ctx, logx.LevelInfo, "answered: %s", q)
	return nil
}
