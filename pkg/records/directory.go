// Package records exposes Perforce groups, users and projects as keyed
// directories that read through the array cache when one is configured and
// fall back to the live source when not.
package records

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/codec"
)

// Decoder turns a stored record into a T.
type Decoder[T any] func(key string, value any) (T, error)

// FetchOptions narrows [Directory.FetchAll]. Filters apply in field order;
// results keep the bucket's order.
type FetchOptions[T any] struct {
	// IDs restricts results to these keys.
	IDs []string
	// After skips every record up to and including this key.
	After string
	// NamePattern is a glob (with ** support) matched against keys.
	NamePattern string
	// Filter is called on each decoded record.
	Filter func(T) bool
	// Max caps the number of results. Zero means no cap.
	Max int
}

// Directory is a keyed collection of T backed by a cache bucket or, without
// a cache service, by its live [Source].
type Directory[T any] struct {
	env    Environment
	bucket string
	source Source
	decode Decoder[T]
	opts   options
}

// NewDirectory returns a Directory over bucket.
func NewDirectory[T any](env Environment, bucket string, src Source, decode Decoder[T], opts ...Option) *Directory[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Directory[T]{
		env:    env,
		bucket: bucket,
		source: src,
		decode: decode,
		opts:   o,
	}
}

// Bucket returns the cache bucket name.
func (d *Directory[T]) Bucket() string { return d.bucket }

// Fetch returns the record with id, or an error matching [ErrNotFound].
func (d *Directory[T]) Fetch(ctx context.Context, id string) (T, error) {
	var zero T

	key, value, found, err := d.lookup(ctx, id, true)
	if err != nil {
		return zero, err
	}

	if !found {
		return zero, fmt.Errorf("%s %q: %w", d.bucket, id, ErrNotFound)
	}

	return d.decodeRecord(key, value)
}

// Exists reports whether a record with id exists.
func (d *Directory[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, _, found, err := d.lookup(ctx, id, false)

	return found, err
}

// FetchAll returns the records selected by opts.
func (d *Directory[T]) FetchAll(ctx context.Context, opts FetchOptions[T]) ([]T, error) {
	if opts.Max < 0 {
		return nil, fmt.Errorf("%s: fetch all: negative max %d", d.bucket, opts.Max)
	}

	c := newCollector(d, opts)

	r, err := d.open(ctx)
	if err != nil {
		return nil, err
	}

	if r == nil {
		err = d.source.Each(ctx, func(key string, value any) error {
			v, err := codec.Normalize(value)
			if err != nil {
				return fmt.Errorf("%w: %s %q: %w", ErrBadRecord, d.bucket, key, err)
			}

			return c.add(key, v)
		})
	} else {
		defer r.Close()

		err = c.fromReader(r)
	}

	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}

	return c.out, nil
}

// open returns a cache reader, or nil when the live source should be used.
func (d *Directory[T]) open(ctx context.Context) (*arraycache.Reader, error) {
	cache, err := d.env.CacheService()
	if errors.Is(err, ErrServiceNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%s: cache service: %w", d.bucket, err)
	}

	r, err := cache.GetOrBuild(ctx, d.bucket, d.enumerate)
	if err != nil {
		if d.opts.fallback && ctx.Err() == nil {
			d.opts.log.Warn("cache unavailable, querying source",
				"bucket", d.bucket, "kind", arraycache.KindOf(err).String(), "err", err)

			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", d.bucket, err)
	}

	return r, nil
}

func (d *Directory[T]) enumerate(ctx context.Context, w arraycache.ElementWriter) error {
	return d.source.Each(ctx, w.WriteElement)
}

func (d *Directory[T]) lookup(ctx context.Context, id string, withValue bool) (string, any, bool, error) {
	r, err := d.open(ctx)
	if err != nil {
		return "", nil, false, err
	}

	if r != nil {
		defer r.Close()
	}

	return d.find(ctx, r, id, withValue)
}

// find looks id up in r, or in the live source when r is nil.
func (d *Directory[T]) find(ctx context.Context, r *arraycache.Reader, id string, withValue bool) (string, any, bool, error) {
	if r == nil {
		return d.lookupLive(ctx, id)
	}

	key := id
	if !r.Has(key) {
		if !d.opts.caseInsensitive {
			return "", nil, false, nil
		}

		k, ok := r.LookupCaseInsensitive(id)
		if !ok {
			return "", nil, false, nil
		}

		key = k
	}

	if !withValue {
		return key, nil, true, nil
	}

	v, found, err := r.Get(key)
	if err != nil {
		return "", nil, false, fmt.Errorf("%s: %w", d.bucket, err)
	}

	return key, v, found, nil
}

func (d *Directory[T]) lookupLive(ctx context.Context, id string) (string, any, bool, error) {
	key := id

	v, found, err := d.source.Lookup(ctx, id)
	if err != nil {
		return "", nil, false, fmt.Errorf("%s: %w", d.bucket, err)
	}

	if !found && d.opts.caseInsensitive {
		err = d.source.Each(ctx, func(k string, value any) error {
			if strings.EqualFold(k, id) {
				key, v, found = k, value, true

				return errStop
			}

			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return "", nil, false, fmt.Errorf("%s: %w", d.bucket, err)
		}
	}

	if !found {
		return "", nil, false, nil
	}

	v, err = codec.Normalize(v)
	if err != nil {
		return "", nil, false, fmt.Errorf("%w: %s %q: %w", ErrBadRecord, d.bucket, key, err)
	}

	return key, v, true, nil
}

func (d *Directory[T]) decodeRecord(key string, value any) (T, error) {
	rec, err := d.decode(key, value)
	if err != nil {
		var zero T

		return zero, fmt.Errorf("%w: %s %q: %w", ErrBadRecord, d.bucket, key, err)
	}

	return rec, nil
}

// view serves several lookups from one reader, so a walk over related
// records sees a single snapshot and locks the bucket once. r is nil when the
// live source is used.
type view[T any] struct {
	d *Directory[T]
	r *arraycache.Reader
}

func (d *Directory[T]) snapshot(ctx context.Context) (*view[T], error) {
	r, err := d.open(ctx)
	if err != nil {
		return nil, err
	}

	return &view[T]{d: d, r: r}, nil
}

// get returns the record with id; found is false if there is none.
func (v *view[T]) get(ctx context.Context, id string) (rec T, found bool, err error) {
	key, value, found, err := v.d.find(ctx, v.r, id, true)
	if err != nil || !found {
		return rec, false, err
	}

	rec, err = v.d.decodeRecord(key, value)
	if err != nil {
		return rec, false, err
	}

	return rec, true, nil
}

func (v *view[T]) close() {
	if v.r != nil {
		_ = v.r.Close()
	}
}

// errStop ends an iteration early without being an error.
var errStop = errors.New("stop")

type collector[T any] struct {
	d       *Directory[T]
	opts    FetchOptions[T]
	ids     map[string]struct{}
	pastCur bool
	out     []T
}

func newCollector[T any](d *Directory[T], opts FetchOptions[T]) *collector[T] {
	c := &collector[T]{d: d, opts: opts, pastCur: opts.After == ""}

	if len(opts.IDs) > 0 {
		c.ids = make(map[string]struct{}, len(opts.IDs))
		for _, id := range opts.IDs {
			c.ids[id] = struct{}{}
		}
	}

	return c
}

func (c *collector[T]) add(key string, value any) error {
	if !c.pastCur {
		c.pastCur = key == c.opts.After

		return nil
	}

	if c.ids != nil {
		if _, ok := c.ids[key]; !ok {
			return nil
		}
	}

	if c.opts.NamePattern != "" {
		ok, err := doublestar.Match(c.opts.NamePattern, key)
		if err != nil {
			return fmt.Errorf("name pattern %q: %w", c.opts.NamePattern, err)
		}

		if !ok {
			return nil
		}
	}

	rec, err := c.d.decodeRecord(key, value)
	if err != nil {
		return err
	}

	if c.opts.Filter != nil && !c.opts.Filter(rec) {
		return nil
	}

	c.out = append(c.out, rec)

	if c.opts.Max > 0 && len(c.out) >= c.opts.Max {
		return errStop
	}

	return nil
}

// fromReader feeds the collector from r. With IDs set, only those elements
// are read, in data file order, instead of scanning the whole bucket.
func (c *collector[T]) fromReader(r *arraycache.Reader) error {
	if c.ids == nil {
		it := r.Iter()
		for it.Next() {
			if err := c.add(it.Key(), it.Value()); err != nil {
				return err
			}
		}

		if err := it.Err(); err != nil {
			return fmt.Errorf("%s: %w", c.d.bucket, err)
		}

		return nil
	}

	floor := int64(-1)

	if !c.pastCur {
		after, ok := r.Entry(c.opts.After)
		if !ok {
			return nil
		}

		floor = after.Offset
		c.pastCur = true
	}

	type located struct {
		key string
		at  int64
	}

	keys := make([]located, 0, len(c.ids))

	for id := range c.ids {
		if e, ok := r.Entry(id); ok && e.Offset > floor {
			keys = append(keys, located{key: id, at: e.Offset})
		}
	}

	slices.SortFunc(keys, func(a, b located) int { return cmp.Compare(a.at, b.at) })

	for _, k := range keys {
		v, _, err := r.Get(k.key)
		if err != nil {
			return fmt.Errorf("%s: %w", c.d.bucket, err)
		}

		if err := c.add(k.key, v); err != nil {
			return err
		}
	}

	return nil
}
