package executor

import (
	"sort"
	"sync"

	"jobexec/internal/job"
)

// Registry tracks live jobs by request id. It is synchronized on its own and
// never touched while a group lock is being acquired.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*job.Job)}
}

// Put maps j under its id. Jobs without an id are not tracked.
func (r *Registry) Put(j *job.Job) {
	if j == nil || j.ID().IsZero() {
		return
	}
	r.mu.Lock()
	r.jobs[j.ID().String()] = j
	r.mu.Unlock()
}

func (r *Registry) Get(id job.ID) *job.Job {
	if id.IsZero() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id.String()]
}

// RemoveIf deletes the mapping only if it still points at j. A newer job
// submitted under the same id keeps its entry.
func (r *Registry) RemoveIf(j *job.Job) bool {
	if j == nil || j.ID().IsZero() {
		return false
	}
	key := j.ID().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[key] != j {
		return false
	}
	delete(r.jobs, key)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// IDs returns the tracked ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.jobs))
	for k := range r.jobs {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
