// Package workpool is an elastic goroutine pool with synchronous hand-off.
//
// Submit hands a task directly to an idle worker. With no idle worker it
// starts a new one, unless MaxWorkers are already running, in which case the
// caller blocks until a worker frees up. Workers that stay idle for
// IdleTimeout exit, so an unused pool holds no goroutines.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rtsup "jobexec/internal/runtime/supervisor"
	logx "jobexec/pkg/logx"
)

var ErrClosed = errors.New("workpool: closed")

// Task is executed on a pool worker. ctx is canceled when the pool is
// abandoned by Close after its deadline or by the parent context.
type Task func(ctx context.Context)

type Config struct {
	Name string
	// MaxWorkers bounds concurrent workers. 0 means unbounded.
	MaxWorkers int
	// IdleTimeout is how long a worker waits for work before exiting.
	IdleTimeout time.Duration
}

type Pool struct {
	cfg Config
	log logx.Logger
	sup *rtsup.Supervisor

	tasks  chan Task
	closed chan struct{}

	mu      sync.Mutex
	workers int
	freed   chan struct{}
	isShut  bool

	seq       atomic.Uint64
	busy      atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
}

// Stats is a diagnostics view.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Busy      int64  `json:"busy"`
	Max       int    `json:"max"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
}

func New(parent context.Context, cfg Config, log logx.Logger) *Pool {
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxWorkers < 0 {
		cfg.MaxWorkers = 0
	}
	return &Pool{
		cfg:    cfg,
		log:    log,
		sup:    rtsup.New(parent, rtsup.WithLogger(log.With(logx.String("comp", cfg.Name)))),
		tasks:  make(chan Task),
		closed: make(chan struct{}),
		freed:  make(chan struct{}),
	}
}

// Submit runs t on a worker. It blocks only while the pool is at MaxWorkers
// and every worker is busy.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if t == nil {
		return fmt.Errorf("workpool: nil task")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-p.closed:
			return ErrClosed
		default:
		}
		// Idle worker: hand off directly.
		select {
		case p.tasks <- t:
			p.submitted.Add(1)
			return nil
		default:
		}

		p.mu.Lock()
		if p.isShut {
			p.mu.Unlock()
			return ErrClosed
		}
		if p.cfg.MaxWorkers == 0 || p.workers < p.cfg.MaxWorkers {
			p.workers++
			// Spawn under mu so Close never waits before the worker is tracked.
			p.spawn(t)
			p.mu.Unlock()
			p.submitted.Add(1)
			return nil
		}
		freed := p.freed
		p.mu.Unlock()

		select {
		case p.tasks <- t:
			p.submitted.Add(1)
			return nil
		case <-freed:
			// A worker exited; retry so we can spawn in its place.
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return ErrClosed
		}
	}
}

// Close stops accepting tasks and waits for running ones, bounded by ctx.
// When ctx expires first, running tasks see their context canceled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.isShut {
		p.isShut = true
		close(p.closed)
	}
	p.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	err := p.sup.Wait(ctx)
	if ctx.Err() != nil {
		p.sup.Cancel()
		return ctx.Err()
	}
	return err
}

// Cancel interrupts running tasks and stops accepting new ones, without waiting.
func (p *Pool) Cancel() {
	p.mu.Lock()
	if !p.isShut {
		p.isShut = true
		close(p.closed)
	}
	p.mu.Unlock()
	p.sup.Cancel()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	w := p.workers
	p.mu.Unlock()
	return Stats{
		Name:      p.cfg.Name,
		Workers:   w,
		Busy:      p.busy.Load(),
		Max:       p.cfg.MaxWorkers,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
	}
}

func (p *Pool) spawn(first Task) {
	name := fmt.Sprintf("%s.worker.%d", p.cfg.Name, p.seq.Add(1))
	p.sup.Go(name, func(ctx context.Context) error {
		defer p.exit()
		p.run(ctx, first)

		idle := time.NewTimer(p.cfg.IdleTimeout)
		defer idle.Stop()
		for {
			select {
			case t := <-p.tasks:
				p.run(ctx, t)
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(p.cfg.IdleTimeout)
			case <-idle.C:
				return nil
			case <-p.closed:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func (p *Pool) run(ctx context.Context, t Task) {
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.log.Error("workpool task panicked", logx.String("pool", p.cfg.Name), logx.Any("panic", r))
		}
	}()
	t(ctx)
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.workers--
	close(p.freed)
	p.freed = make(chan struct{})
	p.mu.Unlock()
}
