package executor

import (
	"context"
	"fmt"
	"sync"

	"jobexec/internal/job"
	rtsup "jobexec/internal/runtime/supervisor"
	logx "jobexec/pkg/logx"
)

// Manager runs jobs one at a time in the order they were added, on a single
// background goroutine.
type Manager struct {
	log   logx.Logger
	sup   *rtsup.Supervisor
	queue *serialQueue

	mu     sync.Mutex
	closed bool
}

func NewManager(parent context.Context, log logx.Logger) *Manager {
	log = log.With(logx.String("comp", "jobmanager"))
	m := &Manager{
		log:   log,
		sup:   rtsup.New(parent, rtsup.WithLogger(log)),
		queue: newSerialQueue(),
	}
	m.sup.GoRestart("jobmanager", func(ctx context.Context) error {
		return m.queue.serve(ctx, func(ctx context.Context, it queued) { it.job.Run(ctx) })
	})
	return m
}

// AddJob queues j behind every job added before it.
func (m *Manager) AddJob(j *job.Job) error {
	if j == nil {
		return fmt.Errorf("jobmanager: nil job")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisposed
	}
	m.queue.push(j, nil)
	return nil
}

// ExecuteJob adds j and waits for it to finish.
func (m *Manager) ExecuteJob(ctx context.Context, j *job.Job) error {
	if err := m.AddJob(j); err != nil {
		return err
	}
	return j.Join(ctx)
}

// CurrentJob is the running job (or the next one about to run), or nil.
func (m *Manager) CurrentJob() *job.Job { return m.queue.head() }

// Close stops the manager. Jobs still queued finish without running their
// body.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.sup.Stop(ctx)
}
