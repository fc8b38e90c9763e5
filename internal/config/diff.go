package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "jobexec/pkg/logx"
)

// SummarizeConfigChange returns the sections that differ between two configs
// and compact attrs describing the new values, for reload logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Int("executor.pool_max_workers", newCfg.Executor.PoolMaxWorkers),
			logx.String("executor.pool_idle_timeout", strings.TrimSpace(newCfg.Executor.PoolIdleTimeout)),
		)
	}

	if oldCfg.StatusStore != newCfg.StatusStore {
		changed = append(changed, "status_store")
		attrs = append(attrs,
			logx.Int("status_store.cache_size", newCfg.StatusStore.CacheSize),
			logx.Int("status_store.max_writers", newCfg.StatusStore.MaxWriters),
		)
	}

	// Nil means memory only.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if (oldCfg.Storage == nil) != (newCfg.Storage == nil) || oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Int("storage.layout", nS.Layout),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if n := diffSchedules(oldCfg.Schedules, newCfg.Schedules); len(n) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Int("schedules.changed_count", len(n)),
			logx.Strs("schedules.changed", n),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports whether a changed section can only take effect on
// the next start (the executor and storage are built once).
func RequiresRestart(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "executor", "status_store", "storage":
			return true
		}
	}
	return false
}

func diffSchedules(oldS, newS []ScheduleConfig) []string {
	index := func(in []ScheduleConfig) map[string]uint64 {
		m := make(map[string]uint64, len(in))
		for _, s := range in {
			b, _ := json.Marshal(s)
			m[strings.TrimSpace(s.Name)] = hashBytes(b)
		}
		return m
	}
	o, n := index(oldS), index(newS)

	set := map[string]struct{}{}
	for k := range o {
		set[k] = struct{}{}
	}
	for k := range n {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		oh, inOld := o[name]
		nh, inNew := n[name]
		if inOld != inNew || oh != nh {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
