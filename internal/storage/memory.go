package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memRecord struct {
	data     []byte
	modified time.Time
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	layout Layout

	mu      sync.Mutex
	records map[string]memRecord
	meta    map[string]string
}

func NewMemory(layout Layout) *MemoryStore {
	if !layout.Valid() {
		layout = CurrentLayout
	}
	return &MemoryStore{layout: layout, records: map[string]memRecord{}, meta: map[string]string{}}
}

func (m *MemoryStore) Layout() Layout { return m.layout }

func (m *MemoryStore) Locate(key []string) string { return m.layout.Locate(key) }

func (m *MemoryStore) Write(ctx context.Context, key []string, data []byte) error {
	return m.WriteAt(ctx, m.Locate(key), data)
}

// WriteAt stores data at an explicit location.
func (m *MemoryStore) WriteAt(ctx context.Context, location string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[location] = memRecord{data: append([]byte(nil), data...), modified: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, key []string) ([]byte, error) {
	return m.ReadAt(ctx, m.Locate(key))
}

func (m *MemoryStore) ReadAt(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[location]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), r.data...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.records, m.Locate(key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]Entry, 0, len(m.records))
	for loc, r := range m.records {
		out = append(out, Entry{Location: loc, Size: int64(len(r.data)), Modified: r.modified})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out, nil
}

func (m *MemoryStore) Relocate(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[from]
	if !ok {
		return ErrNotFound
	}
	delete(m.records, from)
	m.records[to] = r
	return nil
}

func (m *MemoryStore) GetMeta(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.meta[name]
	return v, ok, nil
}

func (m *MemoryStore) PutMeta(_ context.Context, name, value string) error {
	m.mu.Lock()
	m.meta[name] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
