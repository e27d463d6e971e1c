package arraycache_test

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/codec"
)

func Test_Reader_LookupCaseInsensitive_Returns_Original_Key(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "users", []element{
		{key: "Foo", value: int64(1)},
		{key: "bar", value: int64(2)},
	})

	r := e.open(t, path)

	tests := []struct {
		lookup string
		want   string
		found  bool
	}{
		{lookup: "FOO", want: "Foo", found: true},
		{lookup: "BAR", want: "bar", found: true},
		{lookup: "Foo", want: "Foo", found: true},
		{lookup: "baz", want: "", found: false},
	}

	for _, tt := range tests {
		got, found := r.LookupCaseInsensitive(tt.lookup)
		assert.Equal(t, tt.found, found, "LookupCaseInsensitive(%q) found", tt.lookup)
		assert.Equal(t, tt.want, got, "LookupCaseInsensitive(%q)", tt.lookup)
	}

	// Get stays exact.
	_, found, err := r.Get("FOO")
	require.NoError(t, err)
	assert.False(t, found, "Get is case-sensitive")
}

func Test_Reader_LookupCaseInsensitive_Returns_First_Match_In_Write_Order(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "users", []element{
		{key: "aLiCe", value: 1},
		{key: "ALICE", value: 2},
	})

	r := e.open(t, path)

	got, found := r.LookupCaseInsensitive("alice")
	require.True(t, found)
	assert.Equal(t, "aLiCe", got)
}

func Test_Reader_LookupCaseInsensitive_Prefers_Earlier_Variant_Over_Exact_Key(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "users", []element{
		{key: "foo", value: int64(1)},
		{key: "FOO", value: int64(2)},
	})

	r := e.open(t, path)

	got, found := r.LookupCaseInsensitive("FOO")
	require.True(t, found)
	assert.Equal(t, "foo", got, "first match in write order, even when the exact key exists")

	v, found, err := r.Get("FOO")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), v, "Get stays exact")
}

func Test_Iterator_Yields_Elements_In_Write_Order(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	elems := sampleGroups()
	path := e.writeBucket(t, "groups", elems)

	r := e.open(t, path)

	if diff := cmp.Diff(elems, collect(t, r), cmpElements, equateEmpty); diff != "" {
		t.Fatalf("iteration (-want +got):\n%s", diff)
	}
}

func Test_Iterator_Is_Not_Moved_By_Get_During_Iteration(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	elems := sampleGroups()
	path := e.writeBucket(t, "groups", elems)

	r := e.open(t, path)

	var got []element

	it := r.Iter()
	for it.Next() {
		got = append(got, element{key: it.Key(), value: it.Value()})

		// Random access from the end and the start between steps.
		last := elems[len(elems)-1]
		v, found, err := r.Get(last.key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, last.value, v)

		_, _, err = r.Get(elems[0].key)
		require.NoError(t, err)

		// A second iterator running alongside.
		other := r.Iter()
		require.True(t, other.Next())
		require.Equal(t, elems[0].key, other.Key())
	}

	require.NoError(t, it.Err())

	if diff := cmp.Diff(elems, got, cmpElements, equateEmpty); diff != "" {
		t.Fatalf("iteration with interleaved Get (-want +got):\n%s", diff)
	}
}

func Test_Iterator_Reset_Restarts_From_First_Element(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	elems := sampleGroups()
	path := e.writeBucket(t, "groups", elems)

	r := e.open(t, path)

	it := r.Iter()
	require.True(t, it.Next())
	require.True(t, it.Next())

	it.Reset()

	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}

	require.NoError(t, it.Err())
	assert.Equal(t, r.Keys(), keys)
	assert.False(t, it.Next(), "Next after end")
	assert.Equal(t, "", it.Key())
}

func Test_Reader_Returns_ErrIllegalState_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", sampleGroups())

	r, err := arraycache.OpenReader(e.fs, e.locker, path)
	require.NoError(t, err)

	it := r.Iter()

	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Close(), arraycache.ErrIllegalState)

	_, _, err = r.Get("eng")
	require.ErrorIs(t, err, arraycache.ErrIllegalState)
	assert.Equal(t, arraycache.KindIllegalState, arraycache.KindOf(err))

	assert.False(t, it.Next())
	require.ErrorIs(t, it.Err(), arraycache.ErrIllegalState)
}

func Test_OpenReader_Returns_Error_When_Files_Are_Missing_Or_Damaged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		damage func(t *testing.T, path string)
		kind   arraycache.Kind
	}{
		{
			name: "DataMissing",
			damage: func(t *testing.T, path string) {
				require.NoError(t, os.Remove(path))
			},
			kind: arraycache.KindMissing,
		},
		{
			name: "IndexMissing",
			damage: func(t *testing.T, path string) {
				require.NoError(t, os.Remove(arraycache.IndexPath(path)))
			},
			kind: arraycache.KindMissing,
		},
		{
			name: "IndexEmpty",
			damage: func(t *testing.T, path string) {
				require.NoError(t, os.Truncate(arraycache.IndexPath(path), 0))
			},
			kind: arraycache.KindCorrupt,
		},
		{
			name: "IndexGarbage",
			damage: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(arraycache.IndexPath(path), []byte{0xc1, 0x00}, 0o644))
			},
			kind: arraycache.KindCorrupt,
		},
		{
			name: "IndexNotAMap",
			damage: func(t *testing.T, path string) {
				data, err := codec.Encode([]any{"eng"})
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(arraycache.IndexPath(path), data, 0o644))
			},
			kind: arraycache.KindCorrupt,
		},
		{
			name: "DataTruncated",
			damage: func(t *testing.T, path string) {
				info, err := os.Stat(path)
				require.NoError(t, err)
				require.NoError(t, os.Truncate(path, info.Size()-1))
			},
			kind: arraycache.KindCorrupt,
		},
		{
			name: "OverlappingSpans",
			damage: func(t *testing.T, path string) {
				data, err := codec.Encode(codec.MapOf(
					codec.Entry{Key: "a", Value: []any{0, 4}},
					codec.Entry{Key: "b", Value: []any{2, 2}},
				))
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(arraycache.IndexPath(path), data, 0o644))
			},
			kind: arraycache.KindCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			path := e.writeBucket(t, "groups", sampleGroups())

			tt.damage(t, path)

			r, err := arraycache.OpenReader(e.fs, e.locker, path)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.Equal(t, tt.kind, arraycache.KindOf(err), "err=%v", err)

			// Nothing is left locked.
			if _, statErr := os.Stat(path); statErr == nil {
				w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
				require.NoError(t, err, "lock should be free after failed open")
				require.NoError(t, w.Abort())
			}
		})
	}
}

func Test_Reader_Get_Returns_ErrCorrupt_When_Element_Bytes_Are_Damaged(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", sampleGroups())

	r := e.open(t, path)
	span, ok := r.Entry("qa")
	require.True(t, ok)

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xc1}, span.Offset)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, err = r.Get("qa")
	require.ErrorIs(t, err, arraycache.ErrCorrupt)

	// Other elements are still readable.
	_, found, err := r.Get("eng")
	require.NoError(t, err)
	assert.True(t, found)

	it := r.Iter()
	for it.Next() {
	}

	require.ErrorIs(t, it.Err(), arraycache.ErrCorrupt)
}

func Test_OpenReader_Waits_For_Active_Writer(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", []element{{key: "old", value: 1}})

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)

	type result struct {
		r   *arraycache.Reader
		err error
	}

	done := make(chan result, 1)

	go func() {
		r, err := arraycache.OpenReader(e.fs, e.locker, path)
		done <- result{r: r, err: err}
	}()

	select {
	case res := <-done:
		t.Fatalf("OpenReader returned while writer active: err=%v", res.err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, w.WriteElement("new", "value"))
	require.NoError(t, w.Close())

	res := <-done
	require.NoError(t, res.err)

	defer res.r.Close()

	assert.Equal(t, []string{"new"}, res.r.Keys())
}
