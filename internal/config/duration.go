package config

import (
	"fmt"
	"strings"
	"time"
)

// Fallbacks for duration fields left empty or zero.
const (
	DefaultPoolIdleTimeout = 60 * time.Second
	DefaultWriterKeepAlive = 5 * time.Second
	DefaultBusyTimeout     = time.Second
)

// ParseDurationField parses a Go duration string found at path (for error
// messages, e.g. "executor.pool_idle_timeout"). Blank means zero; negative
// values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// IdleTimeout is how long an idle executor pool worker lingers.
func (c ExecutorConfig) IdleTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("executor.pool_idle_timeout", c.PoolIdleTimeout, DefaultPoolIdleTimeout)
}

// KeepAlive is how long an idle status writer goroutine lingers.
func (c StatusStoreConfig) KeepAlive() (time.Duration, error) {
	return ParseDurationOrDefault("status_store.writer_keep_alive", c.WriterKeepAlive, DefaultWriterKeepAlive)
}

// Busy is the sqlite busy timeout.
func (c StorageConfig) Busy() (time.Duration, error) {
	return ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// checkDurations reports every malformed duration field in cfg.
func checkDurations(cfg *Config, add func(error)) {
	_, err := cfg.Executor.IdleTimeout()
	add(err)
	_, err = cfg.StatusStore.KeepAlive()
	add(err)
	if cfg.Storage != nil {
		_, err = cfg.Storage.Busy()
		add(err)
	}
}
