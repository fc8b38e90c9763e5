package job

import (
	"fmt"
	"strings"

	"jobexec/internal/grouplock"
)

// ID identifies a job request. Segments are hierarchical; an empty ID marks
// an ephemeral job whose status is never cached or persisted.
type ID []string

// ParseID splits a slash separated id. Empty segments are dropped.
func ParseID(s string) ID {
	var out ID
	for _, seg := range strings.Split(s, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func (id ID) String() string { return strings.Join(id, "/") }

func (id ID) IsZero() bool { return len(id) == 0 }

// Equal reports whether both ids have the same segments.
func (id ID) Equal(other ID) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// GroupPath identifies the mutual-exclusion domain of a grouped job.
type GroupPath = grouplock.Path

// Request carries the parameters a job was submitted with.
type Request struct {
	ID          ID             `json:"id,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Interactive bool           `json:"interactive,omitempty"`
	Remote      bool           `json:"remote,omitempty"`
	// SkipStatusStore opts the request out of durable status storage.
	SkipStatusStore bool `json:"skip_status_store,omitempty"`
}

// Property returns a request property.
func (r Request) Property(key string) (any, bool) {
	if r.Properties == nil {
		return nil, false
	}
	v, ok := r.Properties[key]
	return v, ok
}

// StringProperty returns key formatted as a string, or def when missing.
func (r Request) StringProperty(key, def string) string {
	v, ok := r.Property(key)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// IntProperty returns key as an int, or def when missing or not numeric.
// JSON decoded numbers arrive as float64 and are truncated.
func (r Request) IntProperty(key string, def int) int {
	v, ok := r.Property(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var out int
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

// WithProperty returns a copy of r with key set.
func (r Request) WithProperty(key string, v any) Request {
	props := make(map[string]any, len(r.Properties)+1)
	for k, val := range r.Properties {
		props[k] = val
	}
	props[key] = v
	r.Properties = props
	return r
}
