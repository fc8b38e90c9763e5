package app

import (
	"fmt"
	"strings"

	"jobexec/internal/config"
	"jobexec/internal/executor"
	"jobexec/internal/job"
	"jobexec/internal/observability/debughttp"
	"jobexec/internal/scheduler"
	"jobexec/internal/statusstore"
	"jobexec/internal/storage"
	logx "jobexec/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig maps the storage section. A missing section or driver
// "none" keeps statuses in memory.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	out := storage.Config{Path: path, Layout: storage.Layout(sc.Layout)}

	switch driver {
	case "", "none", "memory":
		out.Driver = "memory"
	case "file":
		out.Driver = "file"
		if out.Path == "" {
			out.Path = "./jobexec_status"
		}
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := sc.Busy()
		if err != nil {
			return storage.Config{}, err
		}
		out.Driver = "sqlite"
		out.BusyTimeout = busy
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	idle, err := cfg.Executor.IdleTimeout()
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{PoolMaxWorkers: cfg.Executor.PoolMaxWorkers, PoolIdleTimeout: idle}, nil
}

func mapStatusStoreConfig(cfg *config.Config) (statusstore.Config, error) {
	keep, err := cfg.StatusStore.KeepAlive()
	if err != nil {
		return statusstore.Config{}, err
	}
	return statusstore.Config{
		CacheSize:       cfg.StatusStore.CacheSize,
		MaxWriters:      cfg.StatusStore.MaxWriters,
		WriterKeepAlive: keep,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapSchedules(cfg *config.Config) []scheduler.Schedule {
	out := make([]scheduler.Schedule, 0, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		if sc.Disabled {
			continue
		}
		out = append(out, scheduler.Schedule{
			Name:    sc.Name,
			Spec:    sc.Spec,
			Type:    sc.Type,
			Request: job.Request{ID: job.ParseID(sc.ID), Properties: sc.Properties},
		})
	}
	return out
}

func mapDebugConfig(cfg *config.Config) debughttp.Config {
	return debughttp.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}
