package executor

import (
	"context"
	"time"

	"jobexec/internal/job"
	rtsup "jobexec/internal/runtime/supervisor"
	"jobexec/internal/workpool"
)

// Config controls the job executor.
//
// The app layer maps config.executor into this struct.
type Config struct {
	// PoolMaxWorkers bounds the shared pool for ungrouped jobs. 0 is unbounded.
	PoolMaxWorkers int
	// PoolIdleTimeout reclaims idle pool workers.
	PoolIdleTimeout time.Duration
}

// StatusStore is what the executor needs from the status store: persisting
// finished statuses and looking up statuses of jobs no longer live.
type StatusStore interface {
	job.StatusSaver
	Get(ctx context.Context, id job.ID) (*job.Status, error)
}

// GroupSnapshot describes one group worker.
type GroupSnapshot struct {
	Path    string `json:"path"`
	Queued  int    `json:"queued"`
	Current string `json:"current,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Disposed   bool            `json:"disposed"`
	Types      []string        `json:"types"`
	Live       []string        `json:"live"`
	Groups     []GroupSnapshot `json:"groups"`
	LockCount  int             `json:"lock_count"`
	Pool       workpool.Stats  `json:"pool"`
	Supervisor rtsup.Snapshot  `json:"supervisor"`
}
