package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
executor:
  pool_max_workers: 8
  pool_idle_timeout: 30s
status_store:
  cache_size: 50
storage:
  driver: sqlite
  path: ./jobs.db
scheduler:
  enabled: true
schedules:
  - name: nightly
    spec: "cron:0 3 * * *"
    type: sleep
    id: maintenance/nightly
    properties:
      duration: 1s
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	y, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if y.Executor.PoolMaxWorkers != 8 || y.Storage == nil || y.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected decode: %+v", y)
	}
	if len(y.Schedules) != 1 || y.Schedules[0].Properties["duration"] != "1s" {
		t.Fatalf("schedules=%+v", y.Schedules)
	}

	j, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"status_store":{"max_writers":2}}`))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if j.StatusStore.MaxWriters != 2 || j.Storage != nil {
		t.Fatalf("unexpected decode: %+v", j)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		name string
		body string
	}{
		"unknown json key": {"c.json", `{"executor":{"workers":2}}`},
		"unknown yaml key": {"c.yml", "telegram:\n  token: x\n"},
		"trailing data":    {"c.json", `{} {}`},
		"bad yaml":         {"c.yaml", "a: [1, 2"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.name, []byte(tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty ok", cfg: Config{}},
		{name: "bad idle", cfg: Config{Executor: ExecutorConfig{PoolIdleTimeout: "soon"}}, wantErr: "executor.pool_idle_timeout"},
		{name: "negative workers", cfg: Config{Executor: ExecutorConfig{PoolMaxWorkers: -1}}, wantErr: "pool_max_workers"},
		{name: "negative keep alive", cfg: Config{StatusStore: StatusStoreConfig{WriterKeepAlive: "-1s"}}, wantErr: ">= 0"},
		{name: "unknown driver", cfg: Config{Storage: &StorageConfig{Driver: "redis"}}, wantErr: "storage.driver"},
		{name: "unknown layout", cfg: Config{Storage: &StorageConfig{Layout: 9}}, wantErr: "storage.layout"},
		{
			name: "duplicate schedule",
			cfg: Config{Schedules: []ScheduleConfig{
				{Name: "a", Spec: "every:1m", Type: "log"},
				{Name: "a", Spec: "every:1m", Type: "log"},
			}},
			wantErr: "duplicate",
		},
		{name: "schedule without type", cfg: Config{Schedules: []ScheduleConfig{{Name: "a", Spec: "1m"}}}, wantErr: "schedules[0].type"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("set: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "later", time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestSectionDurations(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Executor:    ExecutorConfig{PoolIdleTimeout: "90s"},
		StatusStore: StatusStoreConfig{WriterKeepAlive: "0s"},
		Storage:     &StorageConfig{Driver: "sqlite", BusyTimeout: ""},
	}
	if d, err := cfg.Executor.IdleTimeout(); err != nil || d != 90*time.Second {
		t.Fatalf("IdleTimeout=%v err=%v", d, err)
	}
	if d, err := cfg.StatusStore.KeepAlive(); err != nil || d != DefaultWriterKeepAlive {
		t.Fatalf("KeepAlive=%v err=%v", d, err)
	}
	if d, err := cfg.Storage.Busy(); err != nil || d != DefaultBusyTimeout {
		t.Fatalf("Busy=%v err=%v", d, err)
	}

	cfg.Executor.PoolIdleTimeout = "-1s"
	cfg.Storage.BusyTimeout = "soon"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"executor.pool_idle_timeout", "storage.busy_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err=%v, want mention of %s", err, want)
		}
	}
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if len(cfg.Schedules) != 0 {
		t.Fatalf("schedules=%v", cfg.Schedules)
	}

	src := "schedules:\n  - name: nightly\n    spec: \"@daily\"\n    type: log\n    properties:\n      1: one\n"
	cfg, err = Decode("jobexec.yml", []byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := cfg.Schedules[0].Properties["1"]; got != "one" {
		t.Fatalf("properties=%v", cfg.Schedules[0].Properties)
	}

	if _, err := Decode("bad.yaml", []byte("executor: [")); err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("err=%v, want file name in error", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Schedules: []ScheduleConfig{{Name: "a", Spec: "1m", Type: "log"}}}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Storage:   &StorageConfig{Driver: "file", Path: "./st"},
		Schedules: []ScheduleConfig{{Name: "a", Spec: "2m", Type: "log"}, {Name: "b", Spec: "1m", Type: "log"}},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "schedules", "storage"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed=%v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if !RequiresRestart(changed) {
		t.Fatal("storage change should require a restart")
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs changed=%v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobexec.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	deadline := time.After(5 * time.Second)
	// Writes are spaced past the reload debounce so each one can settle.
	tick := time.NewTicker(2 * reloadDebounce)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level=%q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("reload not committed")
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// The watcher starts asynchronously; keep touching the file.
			_ = os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600)
		case <-deadline:
			t.Fatal("reload not published")
		}
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobexec.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"executor":{"pool_max_workers":-3}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatal("invalid config should not be committed")
	}
	if m.Get().Executor.PoolMaxWorkers != 0 {
		t.Fatal("committed config changed")
	}
}
