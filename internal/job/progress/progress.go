// Package progress turns push-level / step / pop-level events into a
// normalized completion offset.
//
// Progress is a tree. Each step owns at most one level of child steps. A
// level declared with N steps gives each child a 1/N share of the owner's
// progress; a level with an unknown size gives each child 1/count, so
// adding a step retroactively shrinks the existing shares.
package progress

import (
	"errors"
	"sync"
	"time"

	logx "jobexec/pkg/logx"
)

// ErrStepFinished is returned when an event would mutate a step that is
// already finished. It indicates a broken caller.
var ErrStepFinished = errors.New("progress: step already finished")

// Unknown marks a level whose step count is not known upfront.
const Unknown = -1

// Step is a point-in-time snapshot of one node of the progress tree.
type Step struct {
	Message       string        `json:"message,omitempty"`
	Source        string        `json:"source,omitempty"`
	Index         int           `json:"index"`
	Offset        float64       `json:"offset"`
	MaxChildren   int           `json:"max_children"`
	Elapsed       time.Duration `json:"elapsed"`
	Finished      bool          `json:"finished"`
	LevelFinished bool          `json:"level_finished"`
	Children      []Step        `json:"children,omitempty"`
}

type step struct {
	parent *step

	message string
	index   int
	offset  float64

	hasLevel    bool
	source      string
	maxChildren int
	children    []*step

	started       time.Time
	elapsed       time.Duration
	finished      bool
	levelFinished bool
}

func (s *step) last() *step {
	if len(s.children) == 0 {
		return nil
	}
	return s.children[len(s.children)-1]
}

// computed derives the level progress from the children. Only the last
// child can still be running.
func (s *step) computed() float64 {
	if s.levelFinished {
		return 1
	}
	n := len(s.children)
	if n == 0 {
		return 0
	}
	size := s.maxChildren
	if size <= 0 {
		size = n
	}
	share := 1 / float64(size)

	done := float64(n)
	last := s.children[n-1]
	if !last.finished {
		done = float64(n-1) + last.offset
	}
	return clamp(done * share)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Tracker is the progress tree of one job. It is safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	root *step
	log  logx.Logger
	now  func() time.Time
}

// New returns a tracker whose root step starts now.
func New(log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{log: log, now: time.Now}
	t.root = &step{started: t.now(), maxChildren: Unknown}
	return t
}

// PushLevel opens a new level of steps under the last open step of the
// innermost level. steps <= 0 means the count is unknown.
func (t *Tracker) PushLevel(steps int, source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, err := t.pushTargetLocked()
	if err != nil {
		return err
	}
	if steps <= 0 {
		steps = Unknown
	}
	target.hasLevel = true
	target.source = source
	target.maxChildren = steps
	target.children = nil
	t.refreshLocked(target)
	return nil
}

// Step starts the next step of the innermost level, finishing the previous one.
func (t *Tracker) Step(message string) error { return t.StartStep(message) }

// StartStep finishes the current step of the innermost level (if any) and
// starts a new one. A step outside of any level opens an unknown-size level
// on the root.
func (t *Tracker) StartStep(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	owner := t.innermostLocked()
	if owner == nil {
		if t.root.finished || t.root.levelFinished {
			return ErrStepFinished
		}
		owner = t.root
		owner.hasLevel = true
		owner.maxChildren = Unknown
	}
	t.startStepLocked(owner, message)
	t.refreshLocked(owner)
	return nil
}

// EndStep finishes the current step of the innermost level without starting
// the next one.
func (t *Tracker) EndStep() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.finished {
		return ErrStepFinished
	}
	owner := t.innermostLocked()
	if owner == nil {
		t.log.Warn("progress: end step without an open level")
		return nil
	}
	last := owner.last()
	if last == nil || last.finished {
		t.log.Warn("progress: end step without a running step", logx.String("source", owner.source))
		return nil
	}
	t.finishStepLocked(last)
	t.refreshLocked(owner)
	return nil
}

// PopLevel closes levels from the innermost outward until one tagged with
// source is closed. An empty source closes only the innermost level. If no
// open level carries source, only the innermost one is closed.
func (t *Tracker) PopLevel(source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.finished {
		return ErrStepFinished
	}
	owner := t.innermostLocked()
	if owner == nil {
		t.log.Warn("progress: pop level without an open level", logx.String("source", source))
		return nil
	}

	stop := owner
	if source != "" {
		stop = nil
		for s := owner; s != nil; s = s.parent {
			if s.hasLevel && !s.levelFinished && s.source == source {
				stop = s
				break
			}
		}
		if stop == nil {
			t.log.Warn("progress: pop level source not found; closing innermost level",
				logx.String("source", source), logx.String("innermost", owner.source))
			stop = owner
		}
	}

	// Every ancestor of an open level owner owns an open level itself.
	for s := owner; s != nil; s = s.parent {
		t.closeLevelLocked(s)
		t.refreshLocked(s)
		if s == stop {
			break
		}
	}
	return nil
}

// Finish closes every open level and marks the root finished.
// It is idempotent.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root.finished {
		return
	}
	t.finishStepLocked(t.root)
	t.root.offset = 1
}

// Offset is the overall completion in [0,1].
func (t *Tracker) Offset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.offset
}

// CurrentLevelOffset is the completion of the innermost open level, or of
// the root when no level is open.
func (t *Tracker) CurrentLevelOffset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if owner := t.innermostLocked(); owner != nil {
		return owner.offset
	}
	return t.root.offset
}

// Root returns a snapshot of the whole tree.
func (t *Tracker) Root() Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.root, t.now())
}

// Restore replaces the tree with a snapshot (used for decoded statuses).
func (t *Tracker) Restore(root Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = restore(root, nil)
}

// innermostLocked returns the owner of the innermost open level, or nil.
func (t *Tracker) innermostLocked() *step {
	var owner *step
	cur := t.root
	for cur != nil && cur.hasLevel && !cur.levelFinished {
		owner = cur
		last := cur.last()
		if last == nil || last.finished {
			break
		}
		cur = last
	}
	return owner
}

// pushTargetLocked picks the step that will own a new level.
func (t *Tracker) pushTargetLocked() (*step, error) {
	owner := t.innermostLocked()
	if owner == nil {
		if t.root.finished || t.root.levelFinished {
			return nil, ErrStepFinished
		}
		return t.root, nil
	}
	last := owner.last()
	if last == nil || last.finished {
		// A level pushed without an explicit step gets an implicit one.
		last = t.startStepLocked(owner, "")
	}
	if last.finished || last.levelFinished {
		return nil, ErrStepFinished
	}
	return last, nil
}

func (t *Tracker) startStepLocked(owner *step, message string) *step {
	if last := owner.last(); last != nil && !last.finished {
		t.finishStepLocked(last)
	}
	idx := len(owner.children)
	if owner.maxChildren > 0 && idx >= owner.maxChildren {
		t.log.Warn("progress: step count exceeded",
			logx.String("source", owner.source),
			logx.Int("max", owner.maxChildren),
			logx.Int("index", idx))
	}
	s := &step{
		parent:      owner,
		message:     message,
		index:       idx,
		maxChildren: Unknown,
		started:     t.now(),
	}
	owner.children = append(owner.children, s)
	return s
}

// finishStepLocked finishes s, closing any level it left open.
func (t *Tracker) finishStepLocked(s *step) {
	if s.finished {
		return
	}
	if s.hasLevel && !s.levelFinished {
		t.closeLevelLocked(s)
	}
	s.finished = true
	s.elapsed = t.now().Sub(s.started)
}

// closeLevelLocked finalizes the level owned by s to its full share.
func (t *Tracker) closeLevelLocked(s *step) {
	if last := s.last(); last != nil && !last.finished {
		t.finishStepLocked(last)
	}
	s.levelFinished = true
	s.offset = 1
}

// refreshLocked recomputes offsets from s up to the root. Offsets never
// move backwards.
func (t *Tracker) refreshLocked(s *step) {
	for cur := s; cur != nil; cur = cur.parent {
		if !cur.hasLevel {
			continue
		}
		if v := cur.computed(); v > cur.offset {
			cur.offset = v
		}
	}
}

func snapshot(s *step, now time.Time) Step {
	out := Step{
		Message:       s.message,
		Source:        s.source,
		Index:         s.index,
		Offset:        s.offset,
		MaxChildren:   s.maxChildren,
		Elapsed:       s.elapsed,
		Finished:      s.finished,
		LevelFinished: s.levelFinished,
	}
	if !s.finished && !s.started.IsZero() {
		out.Elapsed = now.Sub(s.started)
	}
	if len(s.children) > 0 {
		out.Children = make([]Step, 0, len(s.children))
		for _, c := range s.children {
			out.Children = append(out.Children, snapshot(c, now))
		}
	}
	return out
}

func restore(in Step, parent *step) *step {
	s := &step{
		parent:        parent,
		message:       in.Message,
		source:        in.Source,
		index:         in.Index,
		offset:        clamp(in.Offset),
		maxChildren:   in.MaxChildren,
		elapsed:       in.Elapsed,
		finished:      in.Finished,
		levelFinished: in.LevelFinished,
		hasLevel:      len(in.Children) > 0 || in.LevelFinished,
	}
	for _, c := range in.Children {
		s.children = append(s.children, restore(c, s))
	}
	return s
}
