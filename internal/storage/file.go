package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "jobexec/pkg/logx"
)

const (
	recordFile = "status.json"
	indexFile  = "index.json"
)

// fileStore keeps one record file per location:
//
//	<root>/<location>/status.json
//	<root>/index.json   (meta values)
//
// Writes go to a temp file in the target directory and are renamed in place.
type fileStore struct {
	root   string
	layout Layout
	log    logx.Logger

	mu     sync.Mutex // serializes index.json updates
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{root: root, layout: cfg.Layout, log: log}, nil
}

func (s *fileStore) Layout() Layout { return s.layout }

func (s *fileStore) Locate(key []string) string { return s.layout.Locate(key) }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// pathOf maps a location to its record file, refusing anything that would
// leave the root.
func (s *fileStore) pathOf(location string) (string, error) {
	if location == "" {
		return "", errors.New("storage: empty location")
	}
	p := filepath.Join(s.root, filepath.FromSlash(location), recordFile)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.New("storage: location escapes root: " + location)
	}
	return p, nil
}

func (s *fileStore) Write(ctx context.Context, key []string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	p, err := s.pathOf(s.Locate(key))
	if err != nil {
		return err
	}
	return writeAtomic(p, data)
}

func (s *fileStore) Read(ctx context.Context, key []string) ([]byte, error) {
	return s.ReadAt(ctx, s.Locate(key))
}

func (s *fileStore) ReadAt(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.pathOf(location)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *fileStore) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathOf(s.Locate(key))
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.pruneEmpty(filepath.Dir(p))
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || d.Name() != recordFile {
			return nil
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(p))
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, Entry{Location: filepath.ToSlash(rel), Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out, nil
}

func (s *fileStore) Relocate(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	src, err := s.pathOf(from)
	if err != nil {
		return err
	}
	dst, err := s.pathOf(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	s.pruneEmpty(filepath.Dir(src))
	return nil
}

func (s *fileStore) GetMeta(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readIndexLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := m[name]
	return v, ok, nil
}

func (s *fileStore) PutMeta(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	m[name] = value
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.root, indexFile), b)
}

func (s *fileStore) readIndexLocked() (map[string]string, error) {
	m := map[string]string{}
	b, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("storage index unreadable; starting fresh", logx.Err(err))
		return map[string]string{}, nil
	}
	return m, nil
}

// pruneEmpty removes now-empty directories from dir up to the root.
func (s *fileStore) pruneEmpty(dir string) {
	root := filepath.Clean(s.root)
	for d := filepath.Clean(dir); d != root && strings.HasPrefix(d, root); d = filepath.Dir(d) {
		if err := os.Remove(d); err != nil {
			return
		}
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
