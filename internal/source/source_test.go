package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p4swarm/recordcache/internal/source"
	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/codec"
	"github.com/p4swarm/recordcache/pkg/records"
)

const fixture = `{
  // groups as an array, keyed by "Group"
  "groups": [
    {"Group": "eng", "Users": ["alice", "bob"], "Timeout": 43200},
    {"Group": "qa", "Users": ["carol"], "Subgroups": ["eng"]},
  ],
  "projects": {
    "swarm": {"name": "Swarm", "members": ["alice"], "ratio": 0.5},
    "legacy": {"name": "Legacy", "deleted": true},
  },
}
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func collect(t *testing.T, src records.Source) []codec.Entry {
	t.Helper()

	var out []codec.Entry

	err := src.Each(t.Context(), func(key string, value any) error {
		out = append(out, codec.Entry{Key: key, Value: value})

		return nil
	})
	require.NoError(t, err)

	return out
}

func Test_Parse_Keeps_Key_Order_And_Narrows_Numbers(t *testing.T) {
	t.Parallel()

	got, err := source.Parse([]byte(`{"b": 1, "a": [1.5, "x", null, true], /* c */ "c": {"z": -2, "y": 3}}`))
	require.NoError(t, err)

	want := codec.MapOf(
		codec.Entry{Key: "b", Value: int64(1)},
		codec.Entry{Key: "a", Value: []any{1.5, "x", nil, true}},
		codec.Entry{Key: "c", Value: codec.MapOf(
			codec.Entry{Key: "z", Value: int64(-2)},
			codec.Entry{Key: "y", Value: int64(3)},
		)},
	)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse (-want +got):\n%s", diff)
	}
}

func Test_Parse_Rejects_Invalid_Documents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "Syntax", input: `{"a": }`},
		{name: "NotAnObject", input: `[1, 2]`},
		{name: "Trailing", input: `{} {}`},
		{name: "Empty", input: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := source.Parse([]byte(tt.input))
			require.ErrorIs(t, err, source.ErrInvalid)
		})
	}
}

func Test_Bucket_Each_Keys_Array_Records_By_Key_Field(t *testing.T) {
	t.Parallel()

	f, err := source.Open(writeFixture(t, fixture))
	require.NoError(t, err)

	got := collect(t, f.Bucket("groups"))
	require.Len(t, got, 2)
	assert.Equal(t, "eng", got[0].Key)
	assert.Equal(t, "qa", got[1].Key)

	eng, ok := got[0].Value.(codec.Map)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, eng.Strings("Users"))

	timeout, ok := eng.Int("Timeout")
	require.True(t, ok)
	assert.Equal(t, int64(43200), timeout)

	projects := collect(t, f.Bucket("projects"))
	require.Len(t, projects, 2)
	assert.Equal(t, "swarm", projects[0].Key)
	assert.Equal(t, "legacy", projects[1].Key)

	buckets, err := f.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"groups", "projects"}, buckets)
}

func Test_Bucket_Lookup_Finds_Records_And_Reports_Misses(t *testing.T) {
	t.Parallel()

	f, err := source.Open(writeFixture(t, fixture))
	require.NoError(t, err)

	v, found, err := f.Bucket("projects").Lookup(t.Context(), "legacy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Legacy", v.(codec.Map).String("name"))

	_, found, err = f.Bucket("projects").Lookup(t.Context(), "nope")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = f.Bucket("users").Lookup(t.Context(), "alice")
	require.ErrorIs(t, err, source.ErrUnknownBucket)
}

func Test_Bucket_Rereads_File_On_Every_Call(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, `{"users": [{"User": "alice"}]}`)

	f, err := source.Open(path)
	require.NoError(t, err)

	require.Len(t, collect(t, f.Bucket("users")), 1)

	require.NoError(t, os.WriteFile(path, []byte(`{"users": [{"User": "alice"}, {"User": "bob"}]}`), 0o600))

	require.Len(t, collect(t, f.Bucket("users")), 2)
}

func Test_Bucket_Rejects_Records_Without_Key_Field(t *testing.T) {
	t.Parallel()

	f, err := source.Open(writeFixture(t, `{"users": [{"Email": "x@example.com"}], "odd": 3}`))
	require.NoError(t, err)

	err = f.Bucket("users").Each(t.Context(), func(string, any) error { return nil })
	require.ErrorIs(t, err, source.ErrInvalid)

	err = f.Bucket("odd").Each(t.Context(), func(string, any) error { return nil })
	require.ErrorIs(t, err, source.ErrInvalid)
}

func Test_Bucket_Each_Stops_When_Context_Is_Canceled(t *testing.T) {
	t.Parallel()

	f, err := source.Open(writeFixture(t, fixture))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err = f.Bucket("groups").Each(ctx, func(string, any) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func Test_Open_Fails_For_Missing_Or_Invalid_File(t *testing.T) {
	t.Parallel()

	_, err := source.Open(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = source.Open(writeFixture(t, `{"groups": [`))
	require.ErrorIs(t, err, source.ErrInvalid)
}

func Test_Bucket_Enumerate_Fills_Cache_Bucket(t *testing.T) {
	t.Parallel()

	f, err := source.Open(writeFixture(t, fixture))
	require.NoError(t, err)

	m, err := arraycache.NewManager(t.TempDir())
	require.NoError(t, err)

	r, err := m.GetOrBuild(t.Context(), "groups", f.Bucket("groups").Enumerate)
	require.NoError(t, err)

	defer r.Close()

	assert.Equal(t, []string{"eng", "qa"}, r.Keys())

	v, found, err := r.Get("qa")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"eng"}, v.(codec.Map).Strings("Subgroups"))
}

func Test_Bucket_Enumerate_Fails_On_Duplicate_IDs(t *testing.T) {
	t.Parallel()

	f, err := source.Open(writeFixture(t, `{"users": [{"User": "alice"}, {"User": "alice"}]}`))
	require.NoError(t, err)

	m, err := arraycache.NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.GetOrBuild(t.Context(), "users", f.Bucket("users").Enumerate)
	require.ErrorIs(t, err, arraycache.ErrDuplicateKey)
}
