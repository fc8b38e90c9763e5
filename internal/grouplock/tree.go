// Package grouplock provides hierarchical mutual exclusion over path-shaped groups.
//
// Locking a path takes its own lock exclusively and a shared lock on every
// strict ancestor. A job on "a/b" therefore excludes jobs on "a" (which need
// "a" exclusively) and on "a/b/c" (which need "a/b" shared), while "a/b" and
// "c" never touch the same lock objects.
package grouplock

import (
	"strings"
	"sync"
)

// Path identifies a mutual-exclusion domain.
type Path []string

// Key joins the segments with "/".
func (p Path) Key() string { return strings.Join(p, "/") }

func (p Path) String() string { return p.Key() }

// Parent returns the parent path. ok is false at the root.
func (p Path) Parent() (parent Path, ok bool) {
	if len(p) <= 1 {
		return nil, false
	}
	return p[:len(p)-1], true
}

// IsAncestorOf reports whether p is a strict ancestor of q.
func (p Path) IsAncestorOf(q Path) bool {
	if len(p) >= len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

type entry struct {
	rw   sync.RWMutex
	refs int
}

// Tree is a registry of read/write locks keyed by path.
//
// Entries are created on demand and reference counted: a holder or waiter
// keeps its entry alive, and the entry is dropped once the last one leaves.
// The registry map has its own mutex and is never held while blocking on a
// group lock.
type Tree struct {
	mu      sync.Mutex
	entries map[string]*entry

	// Reservations in reservation order. A reservation may lock only once
	// no earlier overlapping one is left.
	rmu     sync.Mutex
	turn    *sync.Cond
	pending []*Reservation
}

func New() *Tree {
	return &Tree{entries: map[string]*entry{}}
}

// Lock takes the exclusive lock for p, then a shared lock on each strict
// ancestor from the nearest parent to the root.
//
// Acquisition always proceeds from deeper to shallower paths, and a goroutine
// holds at most one lock per depth, which rules out lock-order cycles.
func (t *Tree) Lock(p Path) {
	chain := t.retain(p)
	chain[0].rw.Lock()
	for _, e := range chain[1:] {
		e.rw.RLock()
	}
}

// Unlock releases what Lock(p) acquired, in the same traversal order.
// Calling it for a path that is not locked by the caller is a bug.
func (t *Tree) Unlock(p Path) {
	t.mu.Lock()
	chain := make([]*entry, 0, len(p))
	for _, k := range chainKeys(p) {
		chain = append(chain, t.entries[k])
	}
	t.mu.Unlock()

	chain[0].rw.Unlock()
	for _, e := range chain[1:] {
		e.rw.RUnlock()
	}
	t.release(p)
}

// Reservation holds a place in line for one Lock of a path. Overlapping
// paths (equal, or one an ancestor of the other) lock in the order their
// reservations were taken, regardless of which goroutine gets to Lock first.
type Reservation struct {
	t    *Tree
	path Path
}

// Reserve queues a future Lock of p. The caller must follow up with
// Lock/Unlock or Cancel.
func (t *Tree) Reserve(p Path) *Reservation {
	r := &Reservation{t: t, path: append(Path(nil), p...)}
	t.rmu.Lock()
	t.pending = append(t.pending, r)
	t.rmu.Unlock()
	return r
}

func (r *Reservation) Path() Path { return r.path }

// Lock waits until every earlier overlapping reservation is gone, then
// takes the group lock.
func (r *Reservation) Lock() {
	t := r.t
	t.rmu.Lock()
	for t.blockedLocked(r) {
		t.condLocked().Wait()
	}
	t.rmu.Unlock()
	t.Lock(r.path)
}

// Unlock releases the group lock and gives up the reservation.
func (r *Reservation) Unlock() {
	r.t.Unlock(r.path)
	r.Cancel()
}

// Cancel gives up a reservation that is not locked. It is idempotent.
func (r *Reservation) Cancel() {
	t := r.t
	t.rmu.Lock()
	for i, q := range t.pending {
		if q == r {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			t.condLocked().Broadcast()
			break
		}
	}
	t.rmu.Unlock()
}

// Reserved reports the number of outstanding reservations.
func (t *Tree) Reserved() int {
	t.rmu.Lock()
	defer t.rmu.Unlock()
	return len(t.pending)
}

func (t *Tree) condLocked() *sync.Cond {
	if t.turn == nil {
		t.turn = sync.NewCond(&t.rmu)
	}
	return t.turn
}

func (t *Tree) blockedLocked(r *Reservation) bool {
	for _, q := range t.pending {
		if q == r {
			return false
		}
		if overlaps(q.path, r.path) {
			return true
		}
	}
	return false
}

// overlaps reports whether locks on a and b exclude each other.
func overlaps(a, b Path) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Len reports the number of live lock entries.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// retain returns the entries for p and its ancestors (nearest first),
// creating missing ones and bumping their reference counts.
func (t *Tree) retain(p Path) []*entry {
	keys := chainKeys(p)
	out := make([]*entry, 0, len(keys))

	t.mu.Lock()
	if t.entries == nil {
		t.entries = map[string]*entry{}
	}
	for _, k := range keys {
		e := t.entries[k]
		if e == nil {
			e = &entry{}
			t.entries[k] = e
		}
		e.refs++
		out = append(out, e)
	}
	t.mu.Unlock()
	return out
}

func (t *Tree) release(p Path) {
	t.mu.Lock()
	for _, k := range chainKeys(p) {
		e := t.entries[k]
		if e == nil {
			continue
		}
		e.refs--
		if e.refs <= 0 {
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()
}

// chainKeys lists the keys of p and its strict ancestors, nearest first.
// The empty path maps to the single root key "".
func chainKeys(p Path) []string {
	if len(p) == 0 {
		return []string{""}
	}
	keys := make([]string, 0, len(p))
	for cur, ok := p, true; ok; cur, ok = cur.Parent() {
		keys = append(keys, cur.Key())
	}
	return keys
}
