package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobexec/internal/job"
	logx "jobexec/pkg/logx"
)

// Submitter is the part of the executor the scheduler drives.
type Submitter interface {
	Submit(ctx context.Context, jobType string, req job.Request) (*job.Job, error)
}

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Schedule submits Type with Request each time Spec triggers. A trigger is
// skipped while the job from the previous trigger has not finished.
type Schedule struct {
	Name    string
	Spec    string
	Type    string
	Request job.Request
}

type scheduleDef struct {
	Schedule
	parsed  ParsedSpec
	entryID cron.EntryID
	spread  time.Duration

	mu   sync.Mutex
	last *job.Job
	runs uint64
	skip uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	warn   logx.Logger
	cfg    Config
	loc    *time.Location
	sub    Submitter
	parser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc
	c      *cron.Cron
	defs   map[string]*scheduleDef
}

func New(cfg Config, sub Submitter, log logx.Logger) *Service {
	log = log.With(logx.String("comp", "scheduler"))
	return &Service{
		cfg:  cfg,
		log:  log,
		warn: log.Sampled(logx.NewSampler(0.2, 3)),
		sub:  sub,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*scheduleDef{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change restarts a running cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Add registers or replaces the schedule with the same name.
func (s *Service) Add(sc Schedule) error {
	sc.Name = strings.TrimSpace(sc.Name)
	if sc.Name == "" {
		return errors.New("scheduler: name required")
	}
	if strings.TrimSpace(sc.Type) == "" {
		return fmt.Errorf("scheduler: %s: job type required", sc.Name)
	}
	ps, err := ParseSchedule(sc.Spec)
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", sc.Name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("scheduler: %s: %w", sc.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sc.Name)
	d := &scheduleDef{Schedule: sc, parsed: ps}
	s.defs[sc.Name] = d
	if s.c != nil {
		s.registerLocked(d)
		s.log.Debug("schedule registered",
			logx.String("name", sc.Name),
			logx.String("spec", ps.CronSpec()),
			logx.String("type", sc.Type),
			logx.String("next", s.previewLocked(ps, 3)),
		)
	}
	return nil
}

// Remove unschedules name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

// Sync makes the registered set equal to want: missing names are removed and
// the rest are added or replaced. Every invalid schedule is reported.
func (s *Service) Sync(want []Schedule) error {
	keep := map[string]struct{}{}
	var errs []error
	for _, sc := range want {
		keep[strings.TrimSpace(sc.Name)] = struct{}{}
		if err := s.Add(sc); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	for name := range s.defs {
		if _, ok := keep[name]; !ok {
			s.removeLocked(name)
		}
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Start begins triggering. Submissions use a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for in-progress submissions, bounded by
// ctx. Jobs already submitted keep running on the executor.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

func (s *Service) registerLocked(d *scheduleDef) {
	run := cron.FuncJob(func() { s.fire(d) })
	if d.parsed.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.parsed.Every, time.Now().In(s.loc), d.Name)
		d.spread = jitter
		d.entryID = s.c.Schedule(sched, run)
		return
	}
	eid, err := s.c.AddJob(d.parsed.Cron, run)
	if err != nil {
		// Add validated the spec already.
		s.log.Error("schedule register failed", logx.String("name", d.Name), logx.Err(err))
		return
	}
	d.entryID = eid
}

// fire submits one run of d unless the previous one is still going.
func (s *Service) fire(d *scheduleDef) {
	d.mu.Lock()
	if d.last != nil {
		select {
		case <-d.last.Status().Done():
		default:
			d.skip++
			d.mu.Unlock()
			s.log.Debug("schedule trigger skipped; previous run in flight", logx.String("schedule", d.Name))
			return
		}
	}
	d.mu.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	req := d.Request
	req.Properties = cloneProps(req.Properties)
	j, err := s.sub.Submit(ctx, d.Type, req)
	if err != nil {
		s.warn.Warn("schedule failed to submit job",
			logx.String("schedule", d.Name), logx.String("type", d.Type), logx.Err(err))
		return
	}
	d.mu.Lock()
	d.last = j
	d.runs++
	d.mu.Unlock()
}

func cloneProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewLocked lists the next n trigger times for debug logs.
func (s *Service) previewLocked(ps ParsedSpec, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(ps.CronSpec())
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Type    string        `json:"type"`
	ID      string        `json:"id,omitempty"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Spread  time.Duration `json:"spread,omitempty"`
	Runs    uint64        `json:"runs"`
	Skipped uint64        `json:"skipped"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if out.Timezone == "" && s.loc != nil {
		out.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name: d.Name,
			Spec: d.parsed.CronSpec(),
			Type: d.Type,
			ID:   d.Request.ID.String(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		d.mu.Lock()
		it.Spread, it.Runs, it.Skipped = d.spread, d.runs, d.skip
		d.mu.Unlock()
		out.Schedules = append(out.Schedules, it)
	}
	sort.Slice(out.Schedules, func(i, j int) bool { return out.Schedules[i].Name < out.Schedules[j].Name })
	return out
}
