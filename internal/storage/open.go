package storage

import (
	"errors"
	"strings"

	logx "jobexec/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Layout == 0 {
		cfg.Layout = CurrentLayout
	}
	if !cfg.Layout.Valid() {
		return nil, errors.New("storage: unknown layout")
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(cfg.Layout), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
