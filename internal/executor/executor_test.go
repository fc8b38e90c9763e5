package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jobexec/internal/job"
	logx "jobexec/pkg/logx"
)

// window records when job bodies ran.
type window struct {
	start, end time.Time
}

type recorder struct {
	mu    sync.Mutex
	runs  map[string]window
	order []string
}

func newRecorder() *recorder { return &recorder{runs: map[string]window{}} }

func (r *recorder) body(hold time.Duration) job.Body {
	return func(ctx context.Context, j *job.Job) error {
		name := j.Request().StringProperty("name", "")
		start := time.Now()
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		select {
		case <-time.After(hold):
		case <-ctx.Done():
		}
		r.mu.Lock()
		r.runs[name] = window{start: start, end: time.Now()}
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) overlap(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	wa, wb := r.runs[a], r.runs[b]
	return wa.start.Before(wb.end) && wb.start.Before(wa.end)
}

func newTestExecutor(t *testing.T, rec *recorder, hold time.Duration) *Executor {
	t.Helper()
	types := job.NewRegistry()
	types.MustRegister(job.Definition{
		Type: "grouped",
		Body: rec.body(hold),
		Group: func(req job.Request) job.GroupPath {
			return job.GroupPath(job.ParseID(req.StringProperty("group", "")))
		},
	})
	e := New(Config{PoolIdleTimeout: time.Second}, Deps{Types: types, Log: logx.Nop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Dispose(ctx)
	})
	return e
}

func req(name, group string) job.Request {
	return job.Request{Properties: map[string]any{"name": name, "group": group}}
}

func waitRunning(t *testing.T, j *job.Job) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for j.Status().State() != job.StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("job %s never started", j.Type())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSameGroupRunsInSubmissionOrder(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	e := newTestExecutor(t, rec, 2*time.Millisecond)

	names := []string{"j0", "j1", "j2", "j3", "j4", "j5", "j6", "j7"}
	var jobs []*job.Job
	for _, n := range names {
		j, err := e.Submit(context.Background(), "grouped", req(n, "wiki/main"))
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, j)
	}
	for _, j := range jobs {
		if !j.JoinTimeout(5 * time.Second) {
			t.Fatal("job did not finish")
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, n := range names {
		if rec.order[i] != n {
			t.Fatalf("order=%v, want %v", rec.order, names)
		}
	}
}

func TestAncestorAndDescendantNeverOverlap(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		first, second string
	}{
		{name: "parent first", first: "A", second: "A/B"},
		{name: "child first", first: "A/B", second: "A"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := newRecorder()
			e := newTestExecutor(t, rec, 60*time.Millisecond)

			a, err := e.Submit(context.Background(), "grouped", req("first", tt.first))
			if err != nil {
				t.Fatal(err)
			}
			waitRunning(t, a)
			b, err := e.Submit(context.Background(), "grouped", req("second", tt.second))
			if err != nil {
				t.Fatal(err)
			}

			time.Sleep(20 * time.Millisecond)
			if st := b.Status().State(); st != job.StateNone {
				t.Fatalf("second job state=%s while first runs, want NONE", st)
			}
			if !a.JoinTimeout(5*time.Second) || !b.JoinTimeout(5*time.Second) {
				t.Fatal("jobs did not finish")
			}
			if rec.overlap("first", "second") {
				t.Fatal("ancestor and descendant jobs overlapped")
			}
			if b.Status().StartDate().Before(a.Status().EndDate()) {
				t.Fatal("second job started before the first finished")
			}
		})
	}
}

func TestBackToBackOverlappingGroupsKeepSubmissionOrder(t *testing.T) {
	t.Parallel()
	for _, groups := range [][2]string{{"A", "A/B"}, {"A/B", "A"}} {
		rec := newRecorder()
		e := newTestExecutor(t, rec, time.Millisecond)
		for round := 0; round < 25; round++ {
			first, err := e.Submit(context.Background(), "grouped", req(fmt.Sprintf("first-%d", round), groups[0]))
			if err != nil {
				t.Fatal(err)
			}
			second, err := e.Submit(context.Background(), "grouped", req(fmt.Sprintf("second-%d", round), groups[1]))
			if err != nil {
				t.Fatal(err)
			}
			if !first.JoinTimeout(5*time.Second) || !second.JoinTimeout(5*time.Second) {
				t.Fatal("jobs did not finish")
			}
			if second.Status().StartDate().Before(first.Status().EndDate()) {
				t.Fatalf("%s then %s, round %d: second started before the first finished", groups[0], groups[1], round)
			}
		}
		if n := e.locks.Reserved(); n != 0 {
			t.Fatalf("Reserved=%d after all jobs finished, want 0", n)
		}
	}
}

func TestUnrelatedGroupsRunConcurrently(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	e := newTestExecutor(t, rec, 80*time.Millisecond)

	a, _ := e.Submit(context.Background(), "grouped", req("a", "A/B"))
	b, _ := e.Submit(context.Background(), "grouped", req("b", "A/C"))
	c, _ := e.Submit(context.Background(), "grouped", req("c", "D"))
	for _, j := range []*job.Job{a, b, c} {
		if !j.JoinTimeout(5 * time.Second) {
			t.Fatal("job did not finish")
		}
	}
	if !rec.overlap("a", "b") || !rec.overlap("a", "c") {
		t.Fatal("unrelated groups should overlap")
	}
}

func TestUngroupedJobsAndLookup(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	types := job.NewRegistry()
	types.MustRegister(job.Definition{Type: "block", Body: func(ctx context.Context, _ *job.Job) error {
		<-release
		return nil
	}})
	e := New(Config{}, Deps{Types: types})
	defer e.Dispose(context.Background())

	id := job.ID{"ungrouped", "1"}
	j, err := e.Submit(context.Background(), "block", job.Request{ID: id})
	if err != nil {
		t.Fatal(err)
	}
	if got := e.GetJob(id); got != j {
		t.Fatal("GetJob should return the live job")
	}
	st, err := e.GetStatus(context.Background(), id)
	if err != nil || st != j.Status() {
		t.Fatalf("GetStatus=%v, %v", st, err)
	}
	close(release)
	if !j.JoinTimeout(2 * time.Second) {
		t.Fatal("job did not finish")
	}
	deadline := time.Now().Add(time.Second)
	for e.GetJob(id) != nil {
		if time.Now().After(deadline) {
			t.Fatal("finished job still registered")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := e.Submit(context.Background(), "missing", job.Request{}); !errors.Is(err, job.ErrUnknownType) {
		t.Fatalf("err=%v, want ErrUnknownType", err)
	}
}

func TestGetCurrentJob(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	e := newTestExecutor(t, rec, 100*time.Millisecond)
	j, _ := e.Submit(context.Background(), "grouped", job.Request{ID: job.ID{"g1"}, Properties: map[string]any{"name": "x", "group": "G"}})
	waitRunning(t, j)
	if e.GetCurrentJob(job.GroupPath{"G"}) != j {
		t.Fatal("GetCurrentJob should return the running job")
	}
	if e.GetJob(job.ID{"g1"}) != j {
		t.Fatal("GetJob should find grouped jobs")
	}
	if e.GetCurrentJob(job.GroupPath{"other"}) != nil {
		t.Fatal("unknown group should have no current job")
	}
	snap := e.Snapshot()
	if len(snap.Groups) != 1 || snap.Groups[0].Path != "G" || snap.Groups[0].Current != j.Instance() {
		t.Fatalf("snapshot groups=%+v", snap.Groups)
	}
}

func TestDisposeRejectsAndReleasesJoiners(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	e := newTestExecutor(t, rec, time.Hour)

	running, _ := e.Submit(context.Background(), "grouped", req("running", "G"))
	queued, _ := e.Submit(context.Background(), "grouped", req("queued", "G"))
	waitRunning(t, running)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if !running.JoinTimeout(time.Second) || !queued.JoinTimeout(time.Second) {
		t.Fatal("joiners not released by Dispose")
	}
	if queued.Status().Err() == "" {
		t.Fatal("queued job should record the interruption")
	}
	if _, err := e.Submit(context.Background(), "grouped", req("late", "G")); !errors.Is(err, ErrDisposed) {
		t.Fatalf("err=%v, want ErrDisposed", err)
	}
	if n := e.Snapshot().LockCount; n != 0 {
		t.Fatalf("lock entries=%d after dispose, want 0", n)
	}
	if n := e.locks.Reserved(); n != 0 {
		t.Fatalf("reservations=%d after dispose, want 0", n)
	}
}

func TestDisposeTimeoutStillStopsGroupWorkers(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	rec := newRecorder()
	types := job.NewRegistry()
	types.MustRegister(job.Definition{Type: "stubborn", Body: func(context.Context, *job.Job) error {
		<-release
		return nil
	}})
	types.MustRegister(job.Definition{
		Type: "grouped",
		Body: rec.body(time.Hour),
		Group: func(req job.Request) job.GroupPath {
			return job.GroupPath(job.ParseID(req.StringProperty("group", "")))
		},
	})
	e := New(Config{}, Deps{Types: types, Log: logx.Nop()})

	stubborn, err := e.Submit(context.Background(), "stubborn", job.Request{})
	if err != nil {
		t.Fatal(err)
	}
	running, _ := e.Submit(context.Background(), "grouped", req("running", "G"))
	queued, _ := e.Submit(context.Background(), "grouped", req("queued", "G/H"))
	waitRunning(t, stubborn)
	waitRunning(t, running)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Dispose(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispose err=%v, want deadline exceeded", err)
	}
	if !running.JoinTimeout(time.Second) || !queued.JoinTimeout(time.Second) {
		t.Fatal("group joiners not released after a timed out Dispose")
	}

	close(release)
	if err := e.Dispose(context.Background()); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	if !stubborn.JoinTimeout(time.Second) {
		t.Fatal("ungrouped job did not finish")
	}
	if n := e.locks.Reserved(); n != 0 {
		t.Fatalf("reservations=%d after dispose, want 0", n)
	}
}
