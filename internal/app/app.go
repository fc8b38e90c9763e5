// Package app wires configuration, logging, storage, the status store, the
// executor and the scheduler into one runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"jobexec/internal/config"
	"jobexec/internal/eventbus"
	"jobexec/internal/executor"
	"jobexec/internal/grouplock"
	"jobexec/internal/job"
	"jobexec/internal/jobs"
	"jobexec/internal/observability/debughttp"
	rtsup "jobexec/internal/runtime/supervisor"
	"jobexec/internal/scheduler"
	"jobexec/internal/statusstore"
	"jobexec/internal/storage"
	logx "jobexec/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	logOut io.Writer
	bus    eventbus.Bus

	store *statusstore.Store
	exec  *executor.Executor
	sched *scheduler.Service
	debug *debughttp.Server
}

// Health is the /healthz body of the debug server.
type Health struct {
	Executor    executor.Snapshot  `json:"executor"`
	Scheduler   scheduler.Snapshot `json:"scheduler"`
	CachedCount int                `json:"cached_statuses"`
}

// Option customizes Open.
type Option func(*openOpts)

type openOpts struct {
	register []func(*job.Registry) error
	logs     *logx.Service
	logOut   io.Writer
	logLevel string
}

// WithJobTypes registers extra job types next to the built-ins.
func WithJobTypes(fn func(*job.Registry) error) Option {
	return func(o *openOpts) { o.register = append(o.register, fn) }
}

// WithLogService replaces the logging service built from config.
func WithLogService(s *logx.Service) Option {
	return func(o *openOpts) { o.logs = s }
}

// WithLogOutput sends console logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option {
	return func(o *openOpts) { o.logOut = w }
}

// WithLogLevel overrides logging.level from config.
func WithLogLevel(level string) Option {
	return func(o *openOpts) { o.logLevel = strings.TrimSpace(level) }
}

// Open loads cfgPath and builds every component. An empty path runs with
// defaults (memory storage, no schedules). Nothing is started.
func Open(cfgPath string, opts ...Option) (*App, error) {
	var o openOpts
	for _, fn := range opts {
		fn(&o)
	}

	var (
		cfgm *config.ConfigManager
		cfg  = &config.Config{}
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewConfigManager(cfgPath)
		loaded, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", cfgPath, err)
		}
		cfg = loaded
	}
	return build(cfgm, cfg, o)
}

// OpenConfig builds an app from an in-memory config (no hot reload).
func OpenConfig(cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	var o openOpts
	for _, fn := range opts {
		fn(&o)
	}
	return build(nil, cfg, o)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, o openOpts) (*App, error) {
	logSvc := o.logs
	if logSvc == nil {
		lc := mapLoggingConfig(cfg)
		lc.Output = o.logOut
		if o.logLevel != "" {
			lc.Level = o.logLevel
		}
		logSvc, _ = logx.New(lc)
	}
	log := logSvc.Logger()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ssc, err := mapStatusStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	ec, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}

	reg := job.NewRegistry()
	if err := jobs.Register(reg); err != nil {
		return nil, err
	}
	for _, fn := range o.register {
		if err := fn(reg); err != nil {
			return nil, err
		}
	}

	durable, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Debug("storage opened", logx.String("driver", sc.Driver), logx.Int("layout", int(durable.Layout())))

	store := statusstore.New(ssc, durable, log)
	bus := eventbus.New()
	exec := executor.New(ec, executor.Deps{
		Types: reg,
		Locks: grouplock.New(),
		Store: store,
		Bus:   bus,
		Log:   log,
	})
	sched := scheduler.New(mapSchedulerConfig(cfg), exec, log)
	if err := sched.Sync(mapSchedules(cfg)); err != nil {
		_ = exec.Dispose(context.Background())
		_ = store.Close(context.Background())
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		logOut: o.logOut,
		bus:    bus,
		store:  store,
		exec:   exec,
		sched:  sched,
	}
	a.debug = debughttp.New(mapDebugConfig(cfg), func() any { return a.Health() }, log)
	return a, nil
}

func (a *App) Executor() *executor.Executor { return a.exec }

func (a *App) StatusStore() *statusstore.Store { return a.store }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// DebugAddr is the bound debug server address, empty when it is not running.
func (a *App) DebugAddr() string { return a.debug.Addr() }

func (a *App) Health() Health {
	return Health{
		Executor:    a.exec.Snapshot(),
		Scheduler:   a.sched.Snapshot(),
		CachedCount: a.store.Len(),
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived parts: layout repair (when configured), the
// scheduler, event logging and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if a.cfg.StatusStore.RepairOnStart {
		if _, err := a.store.Repair(ctx); err != nil {
			return fmt.Errorf("status store repair: %w", err)
		}
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	if err := a.debug.Start(a.sup.Context()); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(validateReload)
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return nil
				case newCfg, ok := <-sub:
					if !ok {
						return nil
					}
					// Coalesce bursts: only the newest config matters.
					for drained := false; !drained; {
						select {
						case newer := <-sub:
							if newer != nil {
								newCfg = newer
							}
						default:
							drained = true
						}
					}
					a.applyConfig(c, newCfg)
				}
			}
		})
		a.sup.GoRestart("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started",
		logx.Strs("job_types", a.exec.Types().Types()),
		logx.Bool("scheduler", a.sched.Enabled()),
	)
	return nil
}

func validateReload(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	for i, sc := range cfg.Schedules {
		if _, err := scheduler.ParseSchedule(sc.Spec); err != nil {
			return fmt.Errorf("schedules[%d].spec: %w", i, err)
		}
	}
	return nil
}

// applyConfig applies the sections that can change live: logging, the
// scheduler and its schedules.
func (a *App) applyConfig(ctx context.Context, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(a.cfg, newCfg)
	a.cfg = newCfg
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("executor/storage config changed; restart required for changes to take effect")
	}

	lc := mapLoggingConfig(newCfg)
	lc.Output = a.logOut
	a.logs.Apply(lc)

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if err := a.sched.Sync(mapSchedules(newCfg)); err != nil {
		a.log.Warn("some schedules rejected", logx.Err(err))
	}
	if err := a.debug.Reconfigure(ctx, mapDebugConfig(newCfg)); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	switch {
	case wasEnabled && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	ev, ok := e.Data.(job.Event)
	if !ok {
		a.log.Debug("event", logx.String("type", e.Type))
		return
	}
	fields := []logx.Field{
		logx.String("type", e.Type),
		logx.String("job", ev.JobType),
		logx.String("id", ev.ID),
		logx.String("state", ev.State.String()),
	}
	if ev.Group != "" {
		fields = append(fields, logx.String("group", ev.Group))
	}
	switch e.Type {
	case job.EventFinished:
		if ev.Error != "" {
			a.log.Info("job finished with error", append(fields, logx.String("err", ev.Error))...)
			return
		}
		a.log.Info("job finished", fields...)
	case job.EventQuestion:
		a.log.Info("job is waiting for an answer", append(fields, logx.Any("question", ev.Question))...)
	case job.EventProgress:
		a.log.Trace("job progress", append(fields, logx.Float64("offset", ev.Offset))...)
	default:
		a.log.Debug("job event", fields...)
	}
}

// Stop shuts components down in dependency order: scheduler first so no new
// jobs arrive, then the executor, then the status store (draining pending
// writes).
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("debug", 2*time.Second, a.debug.Stop)
	step("executor", 5*time.Second, a.exec.Dispose)
	step("status_store", 5*time.Second, a.store.Close)
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error {
			err := a.sup.Wait(c)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
	return errors.Join(errs...)
}
