package executor

import (
	"context"
	"sync"

	"jobexec/internal/grouplock"
	"jobexec/internal/job"
)

// queued pairs a job with the lock reservation taken when it was submitted.
type queued struct {
	job *job.Job
	res *grouplock.Reservation
}

// serialQueue is a FIFO of jobs served by a single goroutine. The head stays
// in the queue while it runs, so it doubles as the "current job".
type serialQueue struct {
	mu    sync.Mutex
	items []queued
	wake  chan struct{}
}

func newSerialQueue() *serialQueue {
	return &serialQueue{wake: make(chan struct{}, 1)}
}

func (q *serialQueue) push(j *job.Job, res *grouplock.Reservation) {
	q.mu.Lock()
	q.items = append(q.items, queued{job: j, res: res})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *serialQueue) head() *job.Job {
	return q.front().job
}

func (q *serialQueue) front() queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queued{}
	}
	return q.items[0]
}

// removeIfHead pops j only if it is still the head.
func (q *serialQueue) removeIfHead(j *job.Job) {
	q.mu.Lock()
	if len(q.items) > 0 && q.items[0].job == j {
		q.items[0] = queued{}
		q.items = q.items[1:]
	}
	q.mu.Unlock()
}

func (q *serialQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *serialQueue) find(id job.ID) *job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.job.ID().Equal(id) {
			return it.job
		}
	}
	return nil
}

// serve runs queued jobs one at a time in FIFO order. Once ctx is canceled
// it drains what is left (each job then finishes without running its body)
// and returns.
func (q *serialQueue) serve(ctx context.Context, run func(ctx context.Context, it queued)) error {
	for {
		if it := q.front(); it.job != nil {
			q.runHead(ctx, it, run)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
		}
	}
}

// runHead pops it even if run panics, so a restarted worker never replays
// a job whose reservation is already spent.
func (q *serialQueue) runHead(ctx context.Context, it queued, run func(ctx context.Context, it queued)) {
	defer q.removeIfHead(it.job)
	run(ctx, it)
}
