// Package statusstore caches job statuses in memory and persists them through
// a storage.Store.
//
// Reads are cache first. Concurrent misses for the same id collapse into one
// durable load, and ids known to have no record are cached as a sentinel so
// they are not looked up again. Writes always update the cache immediately;
// the durable write runs on a bounded pool for serializable statuses and
// inline otherwise.
package statusstore

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/singleflight"

	"jobexec/internal/job"
	"jobexec/internal/storage"
	"jobexec/internal/workpool"
	logx "jobexec/pkg/logx"
)

const layoutMetaKey = "layout_version"

type Config struct {
	// CacheSize bounds cached entries (sentinels included). Oldest inserted
	// entries are evicted first.
	CacheSize int
	// MaxWriters bounds concurrent asynchronous durable writes.
	MaxWriters int
	// WriterKeepAlive is how long an idle writer goroutine lingers.
	WriterKeepAlive time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.MaxWriters <= 0 {
		c.MaxWriters = 4
	}
	if c.WriterKeepAlive <= 0 {
		c.WriterKeepAlive = 5 * time.Second
	}
	return c
}

type entry struct {
	key    string
	status *job.Status // nil marks "no status"
}

type Store struct {
	cfg     Config
	log     logx.Logger
	warn    logx.Logger
	durable storage.Store
	writers *workpool.Pool

	mu      sync.Mutex
	cache   map[string]*list.Element
	order   *list.List
	pending map[string]*pendingWrite

	// io serializes durable writes and deletes of the same key.
	io [16]sync.Mutex

	loads singleflight.Group
}

// pendingWrite tracks queued async writes of one key. Remove bumps gen so
// writes queued before it are dropped.
type pendingWrite struct {
	refs int
	gen  uint64
}

func New(cfg Config, durable storage.Store, log logx.Logger) *Store {
	cfg = cfg.withDefaults()
	if durable == nil {
		durable = storage.NewMemory(storage.CurrentLayout)
	}
	log = log.With(logx.String("comp", "statusstore"))
	return &Store{
		cfg:     cfg,
		log:     log,
		warn:    log.Sampled(logx.NewSampler(1, 10)),
		durable: durable,
		writers: workpool.New(context.Background(), workpool.Config{
			Name:        "statusstore.writer",
			MaxWorkers:  cfg.MaxWriters,
			IdleTimeout: cfg.WriterKeepAlive,
		}, log),
		cache:   make(map[string]*list.Element),
		order:   list.New(),
		pending: make(map[string]*pendingWrite),
	}
}

// Get returns the status stored for id, or nil when there is none. A
// status cached by Store while the durable load was in flight wins over the
// loaded one.
func (s *Store) Get(ctx context.Context, id job.ID) (*job.Status, error) {
	if id.IsZero() {
		return nil, nil
	}
	key := id.String()
	if st, ok := s.cached(key); ok {
		return st, nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		// Another loader may have filled the cache while we queued.
		if st, ok := s.cached(key); ok {
			return st, nil
		}
		st, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.putIfAbsent(key, st), nil
	})
	if err != nil {
		return nil, err
	}
	st, _ := v.(*job.Status)
	return st, nil
}

func (s *Store) load(ctx context.Context, id job.ID) (*job.Status, error) {
	b, err := s.durable.Read(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.warn.Warn("status load failed", logx.String("id", id.String()), logx.Err(err))
		return nil, fmt.Errorf("statusstore: load %s: %w", id, err)
	}
	st, err := job.DecodeStatus(b)
	if err != nil {
		s.warn.Warn("status record unreadable", logx.String("id", id.String()), logx.Err(err))
		return nil, nil
	}
	return st, nil
}

// Store caches st and writes it durably. With async set and a serializable
// status the write is handed to the writer pool (blocking only while the
// pool is saturated); otherwise it runs inline and its error is returned.
//
// Statuses without an id are ignored. Statuses whose request opts out of the
// store are cached but never written.
func (s *Store) Store(ctx context.Context, st *job.Status, async bool) error {
	if st == nil || st.ID().IsZero() {
		return nil
	}
	s.put(st.ID().String(), st)
	if st.Request().SkipStatusStore {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if async && st.Serializable() {
		key := st.ID().String()
		gen := s.beginWrite(key)
		err := s.writers.Submit(ctx, func(context.Context) {
			defer s.endWrite(key)
			if err := s.writeIf(context.Background(), st, func() bool { return s.writeGen(key) == gen }); err != nil {
				s.warn.Warn("async status write failed", logx.String("id", key), logx.Err(err))
			}
		})
		if err == nil {
			return nil
		}
		s.endWrite(key)
		if !errors.Is(err, workpool.ErrClosed) {
			return err
		}
		// Pool already closed: fall back to a synchronous write.
	}
	return s.write(ctx, st)
}

func (s *Store) write(ctx context.Context, st *job.Status) error {
	return s.writeIf(ctx, st, nil)
}

// writeIf writes st unless current, checked under the key's io lock,
// reports false.
func (s *Store) writeIf(ctx context.Context, st *job.Status, current func() bool) error {
	b, err := job.EncodeStatus(st)
	if err != nil {
		return err
	}
	mu := s.ioLock(st.ID().String())
	mu.Lock()
	defer mu.Unlock()
	if current != nil && !current() {
		s.log.Debug("stale status write dropped", logx.String("id", st.ID().String()))
		return nil
	}
	if err := s.durable.Write(ctx, st.ID(), b); err != nil {
		return fmt.Errorf("statusstore: write %s: %w", st.ID(), err)
	}
	return nil
}

// Remove deletes the durable record of id and evicts it from the cache.
// Async writes of id queued before Remove are dropped, and one already
// writing finishes before the delete.
func (s *Store) Remove(ctx context.Context, id job.ID) error {
	if id.IsZero() {
		return nil
	}
	key := id.String()
	s.mu.Lock()
	if p := s.pending[key]; p != nil {
		p.gen++
	}
	s.mu.Unlock()

	mu := s.ioLock(key)
	mu.Lock()
	err := s.durable.Delete(ctx, id)
	mu.Unlock()
	s.evict(key)
	if err != nil {
		return fmt.Errorf("statusstore: remove %s: %w", id, err)
	}
	return nil
}

// Find lists ids whose slash-joined form matches a doublestar pattern
// ("**" matches across segments). Cached and durable ids are both searched.
func (s *Store) Find(ctx context.Context, pattern string) ([]job.ID, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("statusstore: invalid pattern %q", pattern)
	}

	seen := map[string]job.ID{}
	s.mu.Lock()
	for key, el := range s.cache {
		if st := el.Value.(*entry).status; st != nil {
			seen[key] = st.ID()
		}
	}
	s.mu.Unlock()

	entries, err := s.durable.List(ctx)
	if err != nil {
		return nil, err
	}
	layout := s.durable.Layout()
	for _, e := range entries {
		if segs, ok := layout.Parse(e.Location); ok {
			id := job.ID(segs)
			seen[id.String()] = id
		}
	}

	var out []job.ID
	for key, id := range seen {
		if ok, _ := doublestar.Match(pattern, key); ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// RepairReport summarizes a repair pass.
type RepairReport struct {
	Skipped    bool `json:"skipped"`
	Layout     int  `json:"layout"`
	Scanned    int  `json:"scanned"`
	Relocated  int  `json:"relocated"`
	Unreadable int  `json:"unreadable"`
}

// Repair moves every record whose location differs from the one its id
// derives to under the active layout, then records the layout in the
// storage index. Once the index matches, Repair is a no-op.
func (s *Store) Repair(ctx context.Context) (RepairReport, error) {
	layout := s.durable.Layout()
	rep := RepairReport{Layout: int(layout)}
	want := strconv.Itoa(int(layout))

	if v, ok, err := s.durable.GetMeta(ctx, layoutMetaKey); err != nil {
		return rep, err
	} else if ok && v == want {
		rep.Skipped = true
		return rep, nil
	}

	entries, err := s.durable.List(ctx)
	if err != nil {
		return rep, err
	}
	for _, e := range entries {
		rep.Scanned++
		b, err := s.durable.ReadAt(ctx, e.Location)
		if err != nil {
			rep.Unreadable++
			s.warn.Warn("repair: read failed", logx.String("location", e.Location), logx.Err(err))
			continue
		}
		st, err := job.DecodeStatus(b)
		if err != nil || st.ID().IsZero() {
			rep.Unreadable++
			s.warn.Warn("repair: record unreadable", logx.String("location", e.Location), logx.Err(err))
			continue
		}
		to := s.durable.Locate(st.ID())
		if to == e.Location {
			continue
		}
		if err := s.durable.Relocate(ctx, e.Location, to); err != nil {
			return rep, fmt.Errorf("statusstore: relocate %s: %w", e.Location, err)
		}
		rep.Relocated++
		s.log.Debug("repair: relocated", logx.String("from", e.Location), logx.String("to", to))
	}

	if err := s.durable.PutMeta(ctx, layoutMetaKey, want); err != nil {
		return rep, err
	}
	s.log.Info("status store repaired", logx.Int("layout", rep.Layout), logx.Int("scanned", rep.Scanned), logx.Int("relocated", rep.Relocated), logx.Int("unreadable", rep.Unreadable))
	return rep, nil
}

// Len is the number of cache entries, sentinels included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Close waits for pending asynchronous writes (bounded by ctx) and closes
// the durable store.
func (s *Store) Close(ctx context.Context) error {
	err := s.writers.Close(ctx)
	if cerr := s.durable.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) cached(key string) (*job.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.cache[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).status, true
}

func (s *Store) put(key string, st *job.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, st)
}

func (s *Store) putLocked(key string, st *job.Status) {
	if el, ok := s.cache[key]; ok {
		el.Value.(*entry).status = st
		return
	}
	s.cache[key] = s.order.PushBack(&entry{key: key, status: st})
	for s.order.Len() > s.cfg.CacheSize {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.cache, oldest.Value.(*entry).key)
	}
}

// putIfAbsent caches st unless key is already cached, and returns the
// cached value.
func (s *Store) putIfAbsent(key string, st *job.Status) *job.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.cache[key]; ok {
		return el.Value.(*entry).status
	}
	s.putLocked(key, st)
	return st
}

func (s *Store) beginWrite(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[key]
	if p == nil {
		p = &pendingWrite{}
		s.pending[key] = p
	}
	p.refs++
	return p.gen
}

func (s *Store) endWrite(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pending[key]; p != nil {
		if p.refs--; p.refs == 0 {
			delete(s.pending, key)
		}
	}
}

func (s *Store) writeGen(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pending[key]; p != nil {
		return p.gen
	}
	return 0
}

func (s *Store) ioLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.io[h.Sum32()%uint32(len(s.io))]
}

func (s *Store) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.cache[key]; ok {
		s.order.Remove(el)
		delete(s.cache, key)
	}
}
