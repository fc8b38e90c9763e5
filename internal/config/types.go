package config

// Config is the jobexec configuration file.
//
// JSON and YAML are both accepted; unknown keys are rejected.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Executor    ExecutorConfig    `json:"executor"`
	StatusStore StatusStoreConfig `json:"status_store"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Schedules   []ScheduleConfig  `json:"schedules,omitempty"`
	Debug       DebugConfig       `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ExecutorConfig controls the pool that runs ungrouped jobs.
//
// Defaults (when fields are omitted/zero):
//   - pool_max_workers: 0 (unbounded)
//   - pool_idle_timeout: "60s"
type ExecutorConfig struct {
	PoolMaxWorkers  int    `json:"pool_max_workers,omitempty"`
	PoolIdleTimeout string `json:"pool_idle_timeout,omitempty"`
}

// StatusStoreConfig controls the status cache and its async writers.
//
// Defaults:
//   - cache_size: 1000
//   - max_writers: 4
//   - writer_keep_alive: "5s"
type StatusStoreConfig struct {
	CacheSize       int    `json:"cache_size,omitempty"`
	MaxWriters      int    `json:"max_writers,omitempty"`
	WriterKeepAlive string `json:"writer_keep_alive,omitempty"`
	// RepairOnStart relocates records written under an older layout.
	RepairOnStart bool `json:"repair_on_start,omitempty"`
}

// StorageConfig selects the durable backend. A nil section keeps statuses
// in memory only.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./jobexec.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Layout      int    `json:"layout,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleConfig submits a job on a trigger.
//
// Spec accepts "cron:<expr>", "interval:<dur>", "every:<dur>", a bare cron
// expression, or an interval written as a duration or "HH:MM".
type ScheduleConfig struct {
	Name       string         `json:"name"`
	Spec       string         `json:"spec"`
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Disabled   bool           `json:"disabled,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof and /healthz).
//
// Security:
//   - Prefer binding to localhost (default "127.0.0.1:6060").
//   - A non-loopback addr needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
