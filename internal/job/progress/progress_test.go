package progress

import (
	"errors"
	"math"
	"testing"

	logx "jobexec/pkg/logx"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKnownStepCount(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())

	mustOK(t, p.PushLevel(4, "job"))
	if p.Offset() != 0 || p.CurrentLevelOffset() != 0 {
		t.Fatalf("after push: offset=%v level=%v, want 0/0", p.Offset(), p.CurrentLevelOffset())
	}

	want := []float64{0, 0.25, 0.5, 0.75}
	for i, w := range want {
		mustOK(t, p.Step("s"))
		if !near(p.Offset(), w) {
			t.Fatalf("step %d: offset=%v, want %v", i, p.Offset(), w)
		}
	}

	mustOK(t, p.PopLevel("job"))
	if !near(p.Offset(), 1) || !near(p.CurrentLevelOffset(), 1) {
		t.Fatalf("after pop: offset=%v level=%v, want 1/1", p.Offset(), p.CurrentLevelOffset())
	}
}

func TestForgottenStepsAbsorbedOnPop(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(4, ""))
	mustOK(t, p.Step("a"))
	mustOK(t, p.Step("b"))
	mustOK(t, p.PopLevel(""))
	if !near(p.Offset(), 1) {
		t.Fatalf("offset=%v, want 1", p.Offset())
	}
}

func TestUnknownStepCountShrinksShares(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(0, ""))

	mustOK(t, p.Step("first"))
	if !near(p.Offset(), 0) {
		t.Fatalf("first step offset=%v, want 0", p.Offset())
	}
	mustOK(t, p.Step("second"))
	if !near(p.Offset(), 0.5) {
		t.Fatalf("second step offset=%v, want 0.5", p.Offset())
	}
	mustOK(t, p.Step("third"))
	if !near(p.Offset(), 2.0/3.0) {
		t.Fatalf("third step offset=%v, want 2/3", p.Offset())
	}
	root := p.Root()
	if len(root.Children) != 3 || root.MaxChildren != Unknown {
		t.Fatalf("root children=%d max=%d", len(root.Children), root.MaxChildren)
	}

	mustOK(t, p.PopLevel(""))
	if !near(p.Offset(), 1) {
		t.Fatalf("after pop offset=%v, want 1", p.Offset())
	}
}

func TestNestedLevels(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(2, "outer"))
	mustOK(t, p.Step("a"))
	mustOK(t, p.PushLevel(2, "inner"))
	mustOK(t, p.Step("a.1"))
	mustOK(t, p.Step("a.2"))

	// a is half done: 0.5 * 0.5 share.
	if !near(p.Offset(), 0.25) {
		t.Fatalf("offset=%v, want 0.25", p.Offset())
	}
	if !near(p.CurrentLevelOffset(), 0.5) {
		t.Fatalf("current level offset=%v, want 0.5", p.CurrentLevelOffset())
	}

	mustOK(t, p.PopLevel("inner"))
	if !near(p.Offset(), 0.5) {
		t.Fatalf("after inner pop offset=%v, want 0.5", p.Offset())
	}
	mustOK(t, p.Step("b"))
	mustOK(t, p.PopLevel("outer"))
	if !near(p.Offset(), 1) {
		t.Fatalf("after outer pop offset=%v, want 1", p.Offset())
	}
}

func TestPopBySourceClosesForgottenLevels(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(2, "outer"))
	mustOK(t, p.Step("a"))
	mustOK(t, p.PushLevel(3, "inner"))
	mustOK(t, p.Step("a.1"))

	// Inner pop is forgotten; popping outer closes both.
	mustOK(t, p.PopLevel("outer"))
	if !near(p.Offset(), 1) {
		t.Fatalf("offset=%v, want 1", p.Offset())
	}
	root := p.Root()
	a := root.Children[0]
	if !a.Finished || !a.LevelFinished {
		t.Fatalf("inner level not auto-closed: %+v", a)
	}
}

func TestStepOverflowClampsAndWarns(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(2, ""))
	for i := 0; i < 5; i++ {
		mustOK(t, p.Step("s"))
	}
	if p.Offset() > 1 {
		t.Fatalf("offset=%v exceeds 1", p.Offset())
	}
	if !near(p.Offset(), 1) {
		t.Fatalf("offset=%v, want clamp at 1", p.Offset())
	}
}

func TestPopWithoutPushIsNoop(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PopLevel(""))
	if p.Offset() != 0 {
		t.Fatalf("offset=%v, want 0", p.Offset())
	}
	mustOK(t, p.EndStep())
}

func TestOffsetsNeverDecrease(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(0, ""))
	mustOK(t, p.Step("a"))
	mustOK(t, p.PushLevel(10, ""))
	for i := 0; i < 9; i++ {
		mustOK(t, p.Step("x"))
	}
	mustOK(t, p.PopLevel(""))
	before := p.Offset()
	// Adding a sibling re-shares the unknown level; the offset must not go back.
	mustOK(t, p.Step("b"))
	if p.Offset() < before {
		t.Fatalf("offset went back: %v -> %v", before, p.Offset())
	}
}

func TestFinishedTrackerRejectsMutation(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(1, ""))
	p.Finish()
	if !near(p.Offset(), 1) {
		t.Fatalf("offset=%v after Finish, want 1", p.Offset())
	}

	for name, fn := range map[string]func() error{
		"push": func() error { return p.PushLevel(1, "") },
		"step": func() error { return p.Step("late") },
		"end":  p.EndStep,
		"pop":  func() error { return p.PopLevel("") },
	} {
		if err := fn(); !errors.Is(err, ErrStepFinished) {
			t.Fatalf("%s after finish: err=%v, want ErrStepFinished", name, err)
		}
	}
}

func TestClosedRootLevelRejectsPush(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(1, ""))
	mustOK(t, p.PopLevel(""))
	if err := p.PushLevel(1, ""); !errors.Is(err, ErrStepFinished) {
		t.Fatalf("err=%v, want ErrStepFinished", err)
	}
}

func TestRestoreSnapshot(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	mustOK(t, p.PushLevel(2, "job"))
	mustOK(t, p.Step("a"))
	mustOK(t, p.Step("b"))
	p.Finish()

	q := New(logx.Nop())
	q.Restore(p.Root())
	if !near(q.Offset(), 1) {
		t.Fatalf("restored offset=%v, want 1", q.Offset())
	}
	if got := q.Root().Children[1].Message; got != "b" {
		t.Fatalf("restored child message=%q, want b", got)
	}
}
