package records

import (
	"context"

	"github.com/p4swarm/recordcache/pkg/arraycache"
)

// Cache is the cache service a [Directory] reads through.
// [*arraycache.Manager] implements it.
type Cache interface {
	GetOrBuild(ctx context.Context, bucket string, enumerate arraycache.Enumerator) (*arraycache.Reader, error)
}

var _ Cache = (*arraycache.Manager)(nil)

// Environment is where a [Directory] looks for its cache service.
type Environment interface {
	// CacheService returns the configured cache, or [ErrServiceNotFound].
	CacheService() (Cache, error)
}

// StaticEnv is an Environment with a fixed cache. A nil Cache means none is
// configured.
type StaticEnv struct {
	Cache Cache
}

// CacheService implements [Environment].
func (e StaticEnv) CacheService() (Cache, error) {
	if e.Cache == nil {
		return nil, ErrServiceNotFound
	}

	return e.Cache, nil
}

// Source is the live data behind one record type.
type Source interface {
	// Each calls fn for every record, in the source's order, stopping at the
	// first error fn returns.
	Each(ctx context.Context, fn func(key string, value any) error) error

	// Lookup returns one record. found is false if key does not exist.
	Lookup(ctx context.Context, key string) (value any, found bool, err error)
}
