package arraycache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/codec"
	"github.com/p4swarm/recordcache/pkg/fs"
)

var (
	equateEmpty = cmpopts.EquateEmpty()
	cmpElements = cmp.AllowUnexported(element{})
)

type element struct {
	key   string
	value any
}

func groupRecord(users ...string) codec.Map {
	list := make([]any, len(users))
	for i, u := range users {
		list[i] = u
	}

	return codec.MapOf(codec.Entry{Key: "Users", Value: list})
}

func sampleGroups() []element {
	return []element{
		{key: "eng", value: groupRecord("alice", "bob")},
		{key: "qa", value: groupRecord("carol")},
		{key: "ops", value: codec.Map{}},
		{key: "empty-list", value: []any{}},
		{key: "nil", value: nil},
		{key: "unicode-ключ", value: "значение ☃"},
	}
}

type env struct {
	fs     fs.FS
	locker *fs.Locker
	dir    string
}

func newEnv(t *testing.T) env {
	t.Helper()

	fsys := fs.NewReal()

	return env{fs: fsys, locker: fs.NewLocker(fsys), dir: t.TempDir()}
}

func (e env) path(name string) string { return filepath.Join(e.dir, name) }

func (e env) writeBucket(t *testing.T, name string, elems []element) string {
	t.Helper()

	path := e.path(name)

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err, "CreateWriter")

	for _, el := range elems {
		require.NoError(t, w.WriteElement(el.key, el.value), "WriteElement(%q)", el.key)
	}

	require.NoError(t, w.Close(), "Close")

	return path
}

func (e env) open(t *testing.T, path string) *arraycache.Reader {
	t.Helper()

	r, err := arraycache.OpenReader(e.fs, e.locker, path)
	require.NoError(t, err, "OpenReader")

	t.Cleanup(func() { _ = r.Close() })

	return r
}

func writeAll(elems []element) arraycache.Enumerator {
	return func(_ context.Context, w arraycache.ElementWriter) error {
		for _, el := range elems {
			if err := w.WriteElement(el.key, el.value); err != nil {
				return err
			}
		}

		return nil
	}
}

func collect(t *testing.T, r *arraycache.Reader) []element {
	t.Helper()

	var out []element

	it := r.Iter()
	for it.Next() {
		out = append(out, element{key: it.Key(), value: it.Value()})
	}

	require.NoError(t, it.Err(), "iteration")

	return out
}
