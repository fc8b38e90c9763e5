package jobs

import (
	"context"
	"fmt"

	"jobexec/internal/job"
	logx "jobexec/pkg/logx"
)

// sequenceStep is one entry of the "steps" property.
type sequenceStep struct {
	Type       string
	ID         job.ID
	Properties map[string]any
}

func parseSteps(req job.Request) ([]sequenceStep, error) {
	v, ok := req.Property("steps")
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("steps: want a list, got %T", v)
	}
	out := make([]sequenceStep, 0, len(list))
	for i, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("steps[%d]: want an object, got %T", i, raw)
		}
		st := sequenceStep{}
		st.Type, _ = m["type"].(string)
		if st.Type == "" {
			return nil, fmt.Errorf("steps[%d]: type required", i)
		}
		if id, ok := m["id"].(string); ok {
			st.ID = job.ParseID(id)
		}
		st.Properties, _ = m["properties"].(map[string]any)
		out = append(out, st)
	}
	return out, nil
}

// sequenceBody runs each step as a sub-job on the calling goroutine. The
// sub-jobs see this job on their context stack, so their questions surface
// on this job's status. Sub-jobs never take group locks; the sequence holds
// its own.
func sequenceBody(reg *job.Registry) job.Body {
	return func(ctx context.Context, j *job.Job) error {
		steps, err := parseSteps(j.Request())
		if err != nil {
			return err
		}
		keepGoing := j.Request().StringProperty("continue_on_error", "") == "true"

		if err := job.PushLevel(ctx, len(steps), TypeSequence); err != nil {
			return err
		}
		var failed int
		for i, st := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := job.Step(ctx, st.Type); err != nil {
				return err
			}
			def, err := reg.Lookup(st.Type)
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			sub := def.NewJob(job.Request{
				ID:              st.ID,
				Properties:      st.Properties,
				Interactive:     j.Request().Interactive,
				SkipStatusStore: true,
			}, j.SubJobOptions()...)
			sub.Run(ctx)

			if msg := sub.Status().Err(); msg != "" {
				failed++
				job.Logf(ctx, logx.LevelWarn, "step %d (%s) failed: %s", i, st.Type, msg)
				if !keepGoing {
					return fmt.Errorf("steps[%d] (%s): %s", i, st.Type, msg)
				}
			}
		}
		if err := job.PopLevel(ctx, TypeSequence); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d steps failed", failed, len(steps))
		}
		return nil
	}
}
