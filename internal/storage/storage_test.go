package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "jobexec/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "files")},
		{Driver: "sqlite", Path: filepath.Join(dir, "status.db")},
		{Driver: "memory"},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			key := []string{"wiki", "space/with/slash", "job"}
			_, err := st.Read(ctx, key)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.Write(ctx, key, []byte(`{"v":1}`)))
			require.NoError(t, st.Write(ctx, key, []byte(`{"v":2}`)))
			b, err := st.Read(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(b))

			require.NoError(t, st.Write(ctx, []string{"wiki"}, []byte("parent")))
			entries, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "wiki", entries[0].Location)
			assert.Equal(t, st.Locate(key), entries[1].Location)

			require.NoError(t, st.Delete(ctx, key))
			require.NoError(t, st.Delete(ctx, key))
			_, err = st.Read(ctx, key)
			require.ErrorIs(t, err, ErrNotFound)

			b, err = st.Read(ctx, []string{"wiki"})
			require.NoError(t, err)
			assert.Equal(t, "parent", string(b))
		})
	}
}

func TestStoreRelocateAndMeta(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			key := []string{"a", "b"}
			require.NoError(t, st.Write(ctx, key, []byte("x")))
			from := st.Locate(key)

			require.NoError(t, st.Relocate(ctx, from, "moved/here"))
			_, err := st.ReadAt(ctx, from)
			require.ErrorIs(t, err, ErrNotFound)
			b, err := st.ReadAt(ctx, "moved/here")
			require.NoError(t, err)
			assert.Equal(t, "x", string(b))
			require.ErrorIs(t, st.Relocate(ctx, from, "elsewhere"), ErrNotFound)

			_, ok, err := st.GetMeta(ctx, "layout_version")
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, st.PutMeta(ctx, "layout_version", "2"))
			v, ok, err := st.GetMeta(ctx, "layout_version")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", v)
		})
	}
}

func TestLayouts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		layout Layout
		key    []string
		want   string
	}{
		{LayoutRaw, []string{"a", "b"}, "a/b"},
		{LayoutRaw, []string{"a/b", "c"}, "a/b/c"},
		{LayoutEscaped, []string{"a", "b"}, "a/b"},
		{LayoutEscaped, []string{"a/b", "c"}, "a%2Fb/c"},
		{LayoutEscaped, []string{"..", "x"}, "%2E%2E/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.layout.Locate(tt.key), "%d %v", tt.layout, tt.key)
		back, ok := tt.layout.Parse(tt.want)
		require.True(t, ok)
		if tt.layout == LayoutEscaped {
			assert.Equal(t, tt.key, back)
		}
	}
}

func TestFileStoreRejectsEscapingLocations(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: t.TempDir(), Layout: LayoutRaw}, logx.Nop())
	require.NoError(t, err)
	err = st.Write(context.Background(), []string{"..", "..", "etc"}, []byte("x"))
	require.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "tape"}, logx.Nop())
	require.Error(t, err)
}
