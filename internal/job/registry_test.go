package job

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	body := func(context.Context, *Job) error { return nil }

	r.MustRegister(Definition{
		Type:         "index",
		Body:         body,
		Serializable: true,
		Group: func(req Request) GroupPath {
			return GroupPath{"index", req.StringProperty("wiki", "main")}
		},
	})
	r.MustRegister(Definition{Type: "plain", Body: body})

	if err := r.Register(Definition{Type: "plain", Body: body}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if err := r.Register(Definition{Type: "nobody"}); err == nil {
		t.Fatal("definition without body should fail")
	}
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v, want ErrUnknownType", err)
	}
	if got := r.Types(); len(got) != 2 || got[0] != "index" || got[1] != "plain" {
		t.Fatalf("Types=%v", got)
	}

	d, err := r.Lookup("index")
	if err != nil {
		t.Fatal(err)
	}
	j := d.NewJob(Request{Properties: map[string]any{"wiki": "dev"}})
	if j.Group().Key() != "index/dev" {
		t.Fatalf("group=%q, want index/dev", j.Group().Key())
	}
	if !j.Status().Serializable() {
		t.Fatal("status should be serializable")
	}

	p, _ := r.Lookup("plain")
	if g := p.NewJob(Request{}).Group(); len(g) != 0 {
		t.Fatalf("plain job should be ungrouped, got %v", g)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		n    int
	}{
		{"a/b/c", "a/b/c", 3},
		{"/a//b/", "a/b", 2},
		{"", "", 0},
	}
	for _, tt := range tests {
		id := ParseID(tt.in)
		if id.String() != tt.want || len(id) != tt.n {
			t.Fatalf("ParseID(%q)=%v, want %q (%d segments)", tt.in, id, tt.want, tt.n)
		}
	}
	if !(ID{"a", "b"}).Equal(ParseID("a/b")) {
		t.Fatal("Equal mismatch")
	}
}
