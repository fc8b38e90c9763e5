package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": one status.json per record under Path (the default)
//   - "sqlite": SQLite database file at Path
//   - "memory": process-local, nothing survives a restart
type Config struct {
	Driver string
	Path   string
	// Layout selects the key-to-location scheme. 0 means CurrentLayout.
	Layout      Layout
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one record found by List.
type Entry struct {
	Location string
	Size     int64
	Modified time.Time
}

// Store is the persistence API used by the status store.
type Store interface {
	Write(ctx context.Context, key []string, data []byte) error
	// Read returns ErrNotFound for missing keys.
	Read(ctx context.Context, key []string) ([]byte, error)
	// Delete removes the record; a missing record is not an error.
	Delete(ctx context.Context, key []string) error

	// List returns every record, sorted by location.
	List(ctx context.Context) ([]Entry, error)
	ReadAt(ctx context.Context, location string) ([]byte, error)
	// Locate is the location key derives to under the active layout.
	Locate(key []string) string
	// Relocate moves a record. An existing record at to is replaced.
	Relocate(ctx context.Context, from, to string) error

	// GetMeta and PutMeta hold small index values such as the applied layout.
	GetMeta(ctx context.Context, name string) (string, bool, error)
	PutMeta(ctx context.Context, name, value string) error

	Layout() Layout
	Close() error
}
