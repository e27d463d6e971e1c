package records

import (
	"errors"

	"github.com/p4swarm/recordcache/pkg/arraycache"
)

var (
	// ErrServiceNotFound is returned by [Environment.CacheService] when no
	// cache is configured. Directories then query their [Source] on every
	// call.
	ErrServiceNotFound = errors.New("records: cache service not found")

	// ErrNotFound is returned by Fetch for an unknown id. It is the same
	// value as [arraycache.ErrNotFound], so [arraycache.KindOf] recognises it.
	ErrNotFound = arraycache.ErrNotFound

	// ErrBadRecord indicates a stored or live record that does not have the
	// shape its type expects.
	ErrBadRecord = errors.New("records: malformed record")
)
