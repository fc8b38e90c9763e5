package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	logx "jobexec/pkg/logx"
)

func get(t *testing.T, url, bearer string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealthzServesSnapshot(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, func() any {
		return map[string]int{"live": 3}
	}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	resp, body := get(t, "http://"+s.Addr()+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var got map[string]int
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if got["live"] != 3 {
		t.Fatalf("body=%v", got)
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	base := "http://" + s.Addr()
	if resp, _ := get(t, base+"/healthz", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", resp.StatusCode)
	}
	if resp, _ := get(t, base+"/healthz", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status=%d", resp.StatusCode)
	}
	if resp, _ := get(t, base+"/healthz", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer: status=%d", resp.StatusCode)
	}
	if resp, _ := get(t, base+"/debug/pprof/cmdline?token=s3cret", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("query token: status=%d", resp.StatusCode)
	}
}

func TestInsecureBindRefused(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v, want ErrInsecureBind", err)
	}
	if s.Addr() != "" {
		t.Fatal("refused server should not be bound")
	}
}

func TestReconfigure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Config{}, nil, logx.Nop())
	if err := s.Start(ctx); err != nil || s.Addr() != "" {
		t.Fatalf("disabled start: addr=%q err=%v", s.Addr(), err)
	}

	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if s.Addr() == "" {
		t.Fatal("server not running after enable")
	}
	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if resp, _ := get(t, "http://"+s.Addr()+"/healthz", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("token not applied: status=%d", resp.StatusCode)
	}
	if err := s.Reconfigure(ctx, Config{}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("server still bound after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v, want %v", addr, got, want)
		}
	}
}
