package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks fields that the strict decoder cannot: durations, ranges
// and schedule uniqueness.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Executor.PoolMaxWorkers < 0 {
		add(fmt.Errorf("executor.pool_max_workers: must be >= 0"))
	}
	checkDurations(cfg, add)

	if cfg.StatusStore.CacheSize < 0 {
		add(fmt.Errorf("status_store.cache_size: must be >= 0"))
	}
	if cfg.StatusStore.MaxWriters < 0 {
		add(fmt.Errorf("status_store.max_writers: must be >= 0"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3", "memory":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if s.Layout < 0 || s.Layout > 2 {
			add(fmt.Errorf("storage.layout: unknown layout %d", s.Layout))
		}
	}

	if d := cfg.Debug; d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			add(fmt.Errorf("debug.addr: %w", err))
		}
	}

	seen := map[string]struct{}{}
	for i, sc := range cfg.Schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else if _, dup := seen[name]; dup {
			add(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(sc.Spec) == "" {
			add(fmt.Errorf("%s.spec: required", path))
		}
		if strings.TrimSpace(sc.Type) == "" {
			add(fmt.Errorf("%s.type: required", path))
		}
	}
	return errors.Join(errs...)
}
