package job

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownType is returned when no definition is registered for a job type.
var ErrUnknownType = errors.New("job: unknown job type")

// Definition describes a job type.
type Definition struct {
	Type string
	// Group derives the group path from the request. Nil or an empty result
	// means the job is ungrouped.
	Group func(req Request) GroupPath
	Body  Body
	// Serializable statuses may be written to durable storage asynchronously.
	Serializable bool
}

// NewJob builds a job of this type for req.
func (d Definition) NewJob(req Request, opts ...Option) *Job {
	base := []Option{WithSerializable(d.Serializable)}
	if d.Group != nil {
		if g := d.Group(req); len(g) > 0 {
			base = append(base, WithGroup(g))
		}
	}
	return New(d.Type, req, d.Body, append(base, opts...)...)
}

// Registry maps job type names to definitions.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Registering the same type twice is an error.
func (r *Registry) Register(d Definition) error {
	d.Type = strings.TrimSpace(d.Type)
	if d.Type == "" {
		return fmt.Errorf("job: definition type is required")
	}
	if d.Body == nil {
		return fmt.Errorf("job: definition %q has no body", d.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.Type]; ok {
		return fmt.Errorf("job: type %q already registered", d.Type)
	}
	r.defs[d.Type] = d
	return nil
}

// MustRegister is Register for init-time wiring.
func (r *Registry) MustRegister(d Definition) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for jobType.
func (r *Registry) Lookup(jobType string) (Definition, error) {
	r.mu.RLock()
	d, ok := r.defs[strings.TrimSpace(jobType)]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownType, jobType)
	}
	return d, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
