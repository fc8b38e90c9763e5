// Package executor runs jobs: ungrouped jobs in parallel on a shared elastic
// pool, grouped jobs on one serial worker per group path, guarded by the
// hierarchical group lock tree.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobexec/internal/eventbus"
	"jobexec/internal/grouplock"
	"jobexec/internal/job"
	rtsup "jobexec/internal/runtime/supervisor"
	"jobexec/internal/workpool"
	logx "jobexec/pkg/logx"
)

// ErrDisposed rejects submissions after Dispose.
var ErrDisposed = errors.New("executor: disposed")

type groupWorker struct {
	queue *serialQueue
}

type Executor struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	types *job.Registry
	locks *grouplock.Tree
	live  *Registry
	store StatusStore

	sup  *rtsup.Supervisor
	pool *workpool.Pool

	mu       sync.Mutex
	disposed bool
	groups   map[string]*groupWorker
}

// Deps are the collaborators injected into the executor. Nil fields get
// private defaults, except Store which stays optional.
type Deps struct {
	Types *job.Registry
	Locks *grouplock.Tree
	Live  *Registry
	Store StatusStore
	Bus   eventbus.Bus
	Log   logx.Logger
}

func New(cfg Config, deps Deps) *Executor {
	if cfg.PoolIdleTimeout <= 0 {
		cfg.PoolIdleTimeout = 60 * time.Second
	}
	if deps.Types == nil {
		deps.Types = job.NewRegistry()
	}
	if deps.Locks == nil {
		deps.Locks = grouplock.New()
	}
	if deps.Live == nil {
		deps.Live = NewRegistry()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	log := deps.Log.With(logx.String("comp", "executor"))

	sup := rtsup.New(context.Background(), rtsup.WithLogger(log))
	return &Executor{
		cfg:   cfg,
		log:   log,
		bus:   deps.Bus,
		types: deps.Types,
		locks: deps.Locks,
		live:  deps.Live,
		store: deps.Store,
		sup:   sup,
		pool: workpool.New(sup.Context(), workpool.Config{
			Name:        "executor.pool",
			MaxWorkers:  cfg.PoolMaxWorkers,
			IdleTimeout: cfg.PoolIdleTimeout,
		}, log),
		groups: make(map[string]*groupWorker),
	}
}

// Types is the job type registry used by Submit.
func (e *Executor) Types() *job.Registry { return e.types }

// NewJob builds a job of jobType wired to this executor's bus, logger and
// status store, without submitting it.
func (e *Executor) NewJob(jobType string, req job.Request) (*job.Job, error) {
	def, err := e.types.Lookup(jobType)
	if err != nil {
		return nil, err
	}
	opts := []job.Option{job.WithBus(e.bus), job.WithLogger(e.log)}
	if e.store != nil {
		opts = append(opts, job.WithSaver(e.store))
	}
	return def.NewJob(req, opts...), nil
}

// Submit builds a job of jobType and schedules it.
func (e *Executor) Submit(ctx context.Context, jobType string, req job.Request) (*job.Job, error) {
	j, err := e.NewJob(jobType, req)
	if err != nil {
		return nil, err
	}
	if err := e.Execute(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ExecuteAndWait submits a job and joins it. A ctx error means the caller
// stopped waiting; the job keeps running.
func (e *Executor) ExecuteAndWait(ctx context.Context, jobType string, req job.Request) (*job.Status, error) {
	j, err := e.Submit(ctx, jobType, req)
	if err != nil {
		return nil, err
	}
	if err := j.Join(ctx); err != nil {
		return j.Status(), err
	}
	return j.Status(), nil
}

// Execute schedules j. Ungrouped jobs go to the shared pool; grouped jobs
// are queued on their group's serial worker. It blocks only while a bounded
// pool is saturated.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	if j == nil {
		return fmt.Errorf("executor: nil job")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if g := j.Group(); len(g) > 0 {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.disposed {
			return ErrDisposed
		}
		// Reserved under e.mu so overlapping groups lock in submission order.
		e.groupFor(g).queue.push(j, e.locks.Reserve(g))
		e.log.Debug("job queued", logx.String("job", j.Type()), logx.String("group", g.Key()), logx.String("id", j.ID().String()))
		return nil
	}

	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return ErrDisposed
	}

	e.live.Put(j)
	err := e.pool.Submit(ctx, func(ctx context.Context) {
		defer e.live.RemoveIf(j)
		j.Run(ctx)
	})
	if err != nil {
		e.live.RemoveIf(j)
		if errors.Is(err, workpool.ErrClosed) {
			return ErrDisposed
		}
		return err
	}
	return nil
}

// groupFor returns the worker for path, starting it on first use.
// Callers hold e.mu.
func (e *Executor) groupFor(path job.GroupPath) *groupWorker {
	key := path.Key()
	if gw := e.groups[key]; gw != nil {
		return gw
	}
	gw := &groupWorker{queue: newSerialQueue()}
	e.groups[key] = gw
	e.sup.GoRestart("group."+key, func(ctx context.Context) error {
		return gw.queue.serve(ctx, e.runGrouped)
	})
	return gw
}

func (e *Executor) runGrouped(ctx context.Context, it queued) {
	it.res.Lock()
	defer it.res.Unlock()
	it.job.Run(ctx)
}

// GetJob finds a live job by id among ungrouped and grouped jobs.
func (e *Executor) GetJob(id job.ID) *job.Job {
	if j := e.live.Get(id); j != nil {
		return j
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, gw := range e.groups {
		if j := gw.queue.find(id); j != nil {
			return j
		}
	}
	return nil
}

// GetCurrentJob returns the job running (or next to run) on group, or nil.
func (e *Executor) GetCurrentJob(group job.GroupPath) *job.Job {
	e.mu.Lock()
	gw := e.groups[group.Key()]
	e.mu.Unlock()
	if gw == nil {
		return nil
	}
	return gw.queue.head()
}

// GetStatus returns the status of a live job, falling back to the status
// store. It returns nil when nothing is known about id.
func (e *Executor) GetStatus(ctx context.Context, id job.ID) (*job.Status, error) {
	if j := e.GetJob(id); j != nil {
		return j.Status(), nil
	}
	if e.store == nil {
		return nil, nil
	}
	return e.store.Get(ctx, id)
}

// Dispose rejects new submissions, interrupts running jobs and waits for the
// workers to exit, bounded by ctx. Queued jobs still reach FINISHED (without
// running their body) so joiners are released.
func (e *Executor) Dispose(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	first := !e.disposed
	e.disposed = true
	e.mu.Unlock()

	if first {
		e.log.Info("executor disposing")
	}
	e.pool.Cancel()
	e.sup.Cancel()

	poolErr := e.pool.Close(ctx)
	if poolErr != nil {
		e.log.Warn("executor pool close failed", logx.Err(poolErr))
	}
	if err := e.sup.Wait(ctx); err != nil && ctx.Err() != nil {
		e.log.Warn("executor dispose timed out", logx.Err(err))
		if poolErr == nil {
			poolErr = err
		}
	}
	if poolErr != nil {
		return poolErr
	}
	if first {
		e.log.Info("executor disposed")
	}
	return nil
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	snap := Snapshot{Disposed: e.disposed}
	for key, gw := range e.groups {
		gs := GroupSnapshot{Path: key, Queued: gw.queue.len()}
		if h := gw.queue.head(); h != nil {
			gs.Current = h.Instance()
		}
		snap.Groups = append(snap.Groups, gs)
	}
	e.mu.Unlock()
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].Path < snap.Groups[j].Path })

	snap.Types = e.types.Types()
	snap.Live = e.live.IDs()
	snap.LockCount = e.locks.Len()
	snap.Pool = e.pool.Stats()
	snap.Supervisor = e.sup.Snapshot()
	return snap
}
