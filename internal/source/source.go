// Package source reads record fixtures from a JSONC file and serves them as
// live [records.Source]s and cache enumerators.
//
// The file holds one entry per bucket. A bucket is either an object keyed by
// record id, or an array of records whose id is taken from the bucket's key
// field ("Group" for groups, "User" for users, "id" otherwise):
//
//	{
//	  // Perforce groups
//	  "groups": [
//	    {"Group": "eng", "Users": ["alice", "bob"]},
//	  ],
//	  "projects": {
//	    "swarm": {"name": "Swarm", "members": ["alice"]},
//	  },
//	}
//
// The file is re-read on every call, so edits show up on the next lookup or
// rebuild.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tailscale/hujson"

	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/codec"
	"github.com/p4swarm/recordcache/pkg/records"
)

var (
	// ErrUnknownBucket is returned for a bucket the file does not define.
	ErrUnknownBucket = errors.New("source: unknown bucket")
	// ErrInvalid is returned when the file is not a valid fixture.
	ErrInvalid = errors.New("source: invalid fixture")
)

// KeyFields maps bucket names to the record field holding the id when the
// bucket is given as an array.
var KeyFields = map[string]string{
	records.GroupsBucket:   "Group",
	records.UsersBucket:    "User",
	records.ProjectsBucket: "id",
}

func keyField(bucket string) string {
	if f, ok := KeyFields[bucket]; ok {
		return f
	}

	return "id"
}

// File is a fixture file on disk.
type File struct {
	path string
}

// Open returns the fixture at path after checking that it parses.
func Open(path string) (*File, error) {
	f := &File{path: path}

	if _, err := f.load(); err != nil {
		return nil, err
	}

	return f, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Buckets returns the bucket names in file order.
func (f *File) Buckets() ([]string, error) {
	top, err := f.load()
	if err != nil {
		return nil, err
	}

	return top.Keys(), nil
}

// Bucket returns the named bucket. The bucket is not checked until used.
func (f *File) Bucket(name string) *Bucket {
	return &Bucket{file: f, name: name}
}

func (f *File) load() (codec.Map, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return codec.Map{}, fmt.Errorf("source: %w", err)
	}

	top, err := Parse(data)
	if err != nil {
		return codec.Map{}, fmt.Errorf("%s: %w", f.path, err)
	}

	return top, nil
}

// Parse decodes a JSONC document whose top level is an object. Objects
// become [codec.Map] with key order kept; integral numbers become int64.
func Parse(data []byte) (codec.Map, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return codec.Map{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(std))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return codec.Map{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return codec.Map{}, fmt.Errorf("%w: trailing data", ErrInvalid)
	}

	top, ok := v.(codec.Map)
	if !ok {
		return codec.Map{}, fmt.Errorf("%w: top level is %T, want object", ErrInvalid, v)
	}

	return top, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := codec.Map{}

			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}

				key, _ := keyTok.(string)

				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}

				m.Set(key, v)
			}

			if _, err := dec.Token(); err != nil {
				return nil, err
			}

			return m, nil
		case '[':
			list := []any{}

			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}

				list = append(list, v)
			}

			if _, err := dec.Token(); err != nil {
				return nil, err
			}

			return list, nil
		}

		return nil, fmt.Errorf("unexpected %v", t)
	case json.Number:
		if n, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return n, nil
		}

		return t.Float64()
	default:
		return t, nil
	}
}

// Bucket is one bucket of a [File]. It implements [records.Source].
type Bucket struct {
	file *File
	name string
}

var _ records.Source = (*Bucket)(nil)

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Each implements [records.Source].
func (b *Bucket) Each(ctx context.Context, fn func(key string, value any) error) error {
	entries, err := b.entries()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}

	return nil
}

// Lookup implements [records.Source].
func (b *Bucket) Lookup(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	entries, err := b.entries()
	if err != nil {
		return nil, false, err
	}

	for _, e := range entries {
		if e.Key == key {
			return e.Value, true, nil
		}
	}

	return nil, false, nil
}

// Enumerate writes the bucket into w. It is an [arraycache.Enumerator].
func (b *Bucket) Enumerate(ctx context.Context, w arraycache.ElementWriter) error {
	return b.Each(ctx, w.WriteElement)
}

func (b *Bucket) entries() ([]codec.Entry, error) {
	top, err := b.file.load()
	if err != nil {
		return nil, err
	}

	raw, ok := top.Get(b.name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownBucket, b.name, b.file.path)
	}

	switch v := raw.(type) {
	case codec.Map:
		return v.Entries, nil
	case []any:
		field := keyField(b.name)
		out := make([]codec.Entry, 0, len(v))

		for i, rec := range v {
			m, ok := rec.(codec.Map)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] is %T, want object", ErrInvalid, b.name, i, rec)
			}

			key, _ := m.Get(field)

			id, ok := key.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("%w: %s[%d] has no %q", ErrInvalid, b.name, i, field)
			}

			out = append(out, codec.Entry{Key: id, Value: m})
		}

		return out, nil
	}

	return nil, fmt.Errorf("%w: bucket %q is %T, want object or array", ErrInvalid, b.name, raw)
}
