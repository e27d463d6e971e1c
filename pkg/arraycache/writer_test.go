package arraycache_test

import (
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/codec"
	"github.com/p4swarm/recordcache/pkg/fs"
)

func Test_Reader_Get_Returns_Each_Written_Value_When_Bucket_Was_Closed(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	elems := sampleGroups()
	path := e.writeBucket(t, "groups", elems)

	r := e.open(t, path)
	require.Equal(t, len(elems), r.Len())

	for _, el := range elems {
		got, found, err := r.Get(el.key)
		require.NoError(t, err, "Get(%q)", el.key)
		require.True(t, found, "Get(%q) found", el.key)

		if diff := cmp.Diff(el.value, got, equateEmpty); diff != "" {
			t.Fatalf("Get(%q) (-want +got):\n%s", el.key, diff)
		}
	}
}

func Test_Writer_Lays_Out_Elements_Contiguously_In_Write_Order(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	elems := sampleGroups()
	path := e.writeBucket(t, "groups", elems)

	r := e.open(t, path)

	var end int64

	for _, el := range elems {
		span, ok := r.Entry(el.key)
		require.True(t, ok, "Entry(%q)", el.key)

		assert.Equal(t, end, span.Offset, "offset of %q", el.key)
		assert.Positive(t, span.Length, "length of %q", el.key)

		end = span.Offset + span.Length
	}

	assert.Equal(t, end, r.DataSize(), "data file size")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Every span decodes on its own.
	for _, el := range elems {
		span, _ := r.Entry(el.key)

		got, err := codec.Decode(data[span.Offset : span.Offset+span.Length])
		require.NoError(t, err, "decode span of %q", el.key)

		if diff := cmp.Diff(el.value, got, equateEmpty); diff != "" {
			t.Fatalf("span of %q (-want +got):\n%s", el.key, diff)
		}
	}
}

func Test_Writer_Persists_Index_As_Ordered_Map_Of_Offset_Length_Pairs(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", []element{
		{key: "eng", value: "a"},
		{key: "qa", value: "bc"},
	})

	raw, err := os.ReadFile(arraycache.IndexPath(path))
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)

	// "a" encodes to 2 bytes (fixstr), "bc" to 3.
	want := codec.MapOf(
		codec.Entry{Key: "eng", Value: []any{int64(0), int64(2)}},
		codec.Entry{Key: "qa", Value: []any{int64(2), int64(3)}},
	)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("index (-want +got):\n%s", diff)
	}
}

func Test_Writer_Produces_Empty_Bucket_When_Closed_Without_Elements(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", nil)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "data file size")

	r := e.open(t, path)
	assert.Zero(t, r.Len())
	assert.Empty(t, collect(t, r))

	for _, key := range []string{"eng", "", "anything"} {
		v, found, err := r.Get(key)
		require.NoError(t, err)
		assert.False(t, found, "Get(%q) found", key)
		assert.Nil(t, v)
	}

	// A bucket that was never built is different: it does not open.
	_, err = arraycache.OpenReader(e.fs, e.locker, e.path("never-built"))
	require.ErrorIs(t, err, arraycache.ErrMissing)
}

func Test_CreateWriter_Returns_ErrFileExists_When_Truncate_Is_False(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", []element{{key: "eng", value: "x"}})

	_, err := arraycache.CreateWriter(e.fs, e.locker, path, false)
	require.ErrorIs(t, err, arraycache.ErrFileExists)
	assert.Equal(t, arraycache.KindFileExists, arraycache.KindOf(err))

	// The existing bucket is untouched.
	r := e.open(t, path)
	assert.Equal(t, 1, r.Len())

	w, err := arraycache.CreateWriter(e.fs, e.locker, e.path("fresh"), false)
	require.NoError(t, err, "CreateWriter on a new path")
	require.NoError(t, w.Close())
}

func Test_CreateWriter_Returns_ErrLockBusy_When_Another_Writer_Is_Active(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.path("groups")

	w1, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)

	_, err = arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.ErrorIs(t, err, arraycache.ErrLockBusy)
	assert.Equal(t, arraycache.KindLockBusy, arraycache.KindOf(err))

	require.NoError(t, w1.Close())

	w2, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err, "CreateWriter after the first writer closed")
	require.NoError(t, w2.Close())
}

func Test_Writer_WriteElement_Returns_ErrDuplicateKey_And_Keeps_First_Value(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.path("groups")

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)

	require.NoError(t, w.WriteElement("eng", "first"))

	err = w.WriteElement("eng", "second")
	require.ErrorIs(t, err, arraycache.ErrDuplicateKey)

	// The writer is still usable.
	require.NoError(t, w.WriteElement("qa", "other"))
	require.NoError(t, w.Close())

	r := e.open(t, path)
	got, found, err := r.Get("eng")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", got)
	assert.Equal(t, []string{"eng", "qa"}, r.Keys())
}

func Test_Writer_Returns_ErrIllegalState_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	w, err := arraycache.CreateWriter(e.fs, e.locker, e.path("groups"), true)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.ErrorIs(t, w.Close(), arraycache.ErrIllegalState)
	require.ErrorIs(t, w.WriteElement("eng", 1), arraycache.ErrIllegalState)
	require.ErrorIs(t, w.Abort(), arraycache.ErrIllegalState)
}

func Test_Writer_Abort_Removes_Data_And_Releases_Lock(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.path("groups")

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)
	require.NoError(t, w.WriteElement("eng", "x"))
	require.NoError(t, w.Abort())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "data file should be gone, stat err=%v", err)

	_, err = os.Stat(arraycache.IndexPath(path))
	assert.True(t, os.IsNotExist(err), "no index should be published, stat err=%v", err)

	w2, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err, "lock should be free after Abort")
	require.NoError(t, w2.Close())
}

func Test_CreateWriter_Removes_Stale_Index_Before_Building(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.writeBucket(t, "groups", sampleGroups())

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)

	_, err = os.Stat(arraycache.IndexPath(path))
	assert.True(t, os.IsNotExist(err), "stale index should be removed, stat err=%v", err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "data file should be truncated")

	require.NoError(t, w.WriteElement("only", "one"))
	require.NoError(t, w.Close())

	r := e.open(t, path)
	assert.Equal(t, []string{"only"}, r.Keys())
}

func Test_Writer_Close_Publishes_No_Index_When_Data_Write_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{WriteFailRate: 1})
	locker := fs.NewLocker(chaos)
	path := dir + "/groups"

	w, err := arraycache.CreateWriter(chaos, locker, path, true)
	require.NoError(t, err)

	// Elements are buffered; the failure surfaces when Close flushes.
	require.NoError(t, w.WriteElement("eng", "x"))

	err = w.Close()
	require.Error(t, err)
	assert.True(t, fs.IsInjected(err), "err=%v should be injected", err)
	assert.True(t, errors.Is(err, syscall.EIO), "err=%v should be EIO", err)

	_, err = os.Stat(arraycache.IndexPath(path))
	assert.True(t, os.IsNotExist(err), "no index after failed close, stat err=%v", err)

	_, err = arraycache.OpenReader(fs.NewReal(), fs.NewLocker(fs.NewReal()), path)
	require.ErrorIs(t, err, arraycache.ErrMissing)
}

func Test_Writer_Fails_When_Value_Cannot_Be_Encoded(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.path("groups")

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)

	err = w.WriteElement("bad", make(chan int))
	require.ErrorIs(t, err, codec.ErrUnsupported)

	err = w.WriteElement("good", "x")
	require.ErrorIs(t, err, arraycache.ErrIllegalState)

	err = w.Close()
	require.ErrorIs(t, err, codec.ErrUnsupported, "Close reports the original failure")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "failed writer should not leave data, stat err=%v", err)
}

func Test_Writer_Close_Does_Not_Publish_Index_When_Bucket_Invalidated_During_Build(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	path := e.path("groups")

	w, err := arraycache.CreateWriter(e.fs, e.locker, path, true)
	require.NoError(t, err)
	require.NoError(t, w.WriteElement("eng", "old"))

	require.NoError(t, os.Remove(path))

	err = w.Close()
	require.ErrorIs(t, err, arraycache.ErrMissing)

	_, err = os.Stat(arraycache.IndexPath(path))
	assert.True(t, os.IsNotExist(err), "stat err=%v", err)
}
