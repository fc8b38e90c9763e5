package job

import (
	"context"
	"errors"
	"testing"

	logx "jobexec/pkg/logx"
)

func TestStatusCodecFinishedJob(t *testing.T) {
	t.Parallel()
	j := New("encode", Request{ID: ID{"x", "1"}, Properties: map[string]any{"n": 2}}, func(ctx context.Context, _ *Job) error {
		if err := PushLevel(ctx, 2, ""); err != nil {
			return err
		}
		_ = Step(ctx, "one")
		Logf(ctx, logx.LevelWarn, "careful")
		_ = Step(ctx, "two")
		_ = PopLevel(ctx, "")
		return errors.New("late failure")
	}, WithSerializable(true))
	j.Run(context.Background())

	b, err := EncodeStatus(j.Status())
	if err != nil {
		t.Fatal(err)
	}
	st, err := DecodeStatus(b)
	if err != nil {
		t.Fatal(err)
	}

	if st.Type() != "encode" || st.ID().String() != "x/1" {
		t.Fatalf("decoded type=%q id=%q", st.Type(), st.ID())
	}
	if st.State() != StateFinished || st.Err() != "late failure" || !st.Serializable() {
		t.Fatalf("decoded state=%s err=%q serializable=%v", st.State(), st.Err(), st.Serializable())
	}
	if len(st.Logs()) != 2 || st.Logs()[0].Message != "careful" {
		t.Fatalf("decoded logs=%+v", st.Logs())
	}
	if st.Progress().Offset() != 1 {
		t.Fatalf("decoded offset=%v", st.Progress().Offset())
	}
	if !st.StartDate().Equal(j.Status().StartDate()) {
		t.Fatal("start date not preserved")
	}
	if !st.JoinTimeout(0) {
		t.Fatal("decoded status should already be joined")
	}
	if st.Request().IntProperty("n", 0) != 2 {
		t.Fatalf("property n=%v", st.Request().Properties["n"])
	}
}

func TestDecodeStatusRejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{`{"format_version":2}`, `{}`, `not json`} {
		if _, err := DecodeStatus([]byte(doc)); !errors.Is(err, ErrStatusFormat) {
			t.Fatalf("DecodeStatus(%s) err=%v, want ErrStatusFormat", doc, err)
		}
	}
}
