package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Info("job.finished", Int("n", 3))

	out := buf.String()
	for _, want := range []string{`"comp":"test"`, `"n":3`, `"message":"job.finished"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestSampledLoggerDropsBurst(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewSampler(0.001, 2)
	l := NewWriter(&buf, "debug").Sampled(s)
	for i := 0; i < 5; i++ {
		l.Warn("noisy")
	}
	if got := strings.Count(buf.String(), "noisy"); got != 2 {
		t.Fatalf("logged %d lines, want 2", got)
	}
	if s.Dropped() != 3 {
		t.Fatalf("Dropped = %d, want 3", s.Dropped())
	}

	// Errors are never sampled.
	l.Error("boom")
	if !strings.Contains(buf.String(), "boom") {
		t.Fatal("error line was sampled away")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if ParseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatal("warning should map to warn")
	}
	if ParseLevel("nope", LevelInfo) != LevelInfo {
		t.Fatal("unknown level should fall back")
	}
}
