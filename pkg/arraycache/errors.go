package arraycache

import (
	"errors"
	"os"

	"github.com/p4swarm/recordcache/pkg/codec"
)

// Sentinel errors returned by arraycache operations.
//
// Callers should use [errors.Is], or [KindOf] to switch over all of them:
//
//	switch arraycache.KindOf(err) {
//	case arraycache.KindMissing, arraycache.KindCorrupt:
//	    // rebuild
//	}
var (
	// ErrFileExists indicates [CreateWriter] was asked not to truncate an
	// existing data file.
	ErrFileExists = errors.New("arraycache: file exists")

	// ErrLockBusy indicates another writer holds the bucket's exclusive lock.
	//
	// Recovery: do not rebuild; open a reader, which waits for the writer.
	ErrLockBusy = errors.New("arraycache: lock busy")

	// ErrMissing indicates the data file or its index does not exist.
	ErrMissing = errors.New("arraycache: missing file")

	// ErrCorrupt indicates the index is undecodable or references bytes
	// outside the data file, or an element failed to decode.
	//
	// Recovery: rebuild the bucket.
	ErrCorrupt = errors.New("arraycache: corrupt")

	// ErrNotFound indicates a key is absent from a bucket.
	//
	// [Reader.Get] reports absence with found=false instead; consumers that
	// want an error wrap this one.
	ErrNotFound = errors.New("arraycache: not found")

	// ErrIllegalState indicates API misuse: using a closed reader or writer,
	// or closing twice.
	//
	// This is a programming error.
	ErrIllegalState = errors.New("arraycache: illegal state")

	// ErrDuplicateKey indicates a key was written twice in one writer session.
	ErrDuplicateKey = errors.New("arraycache: duplicate key")

	// ErrInvalidBucket indicates a bucket name that cannot map to a file in
	// the cache directory.
	ErrInvalidBucket = errors.New("arraycache: invalid bucket name")
)

// Kind classifies an error returned by this package.
type Kind uint8

const (
	// KindNone is the kind of a nil error.
	KindNone Kind = iota
	// KindOther covers I/O and any error not otherwise classified.
	KindOther
	KindFileExists
	KindLockBusy
	KindMissing
	KindCorrupt
	KindNotFound
	KindIllegalState
	KindDuplicateKey
	KindInvalidBucket
)

var kindNames = [...]string{
	KindNone:          "none",
	KindOther:         "other",
	KindFileExists:    "file-exists",
	KindLockBusy:      "lock-busy",
	KindMissing:       "missing",
	KindCorrupt:       "corrupt",
	KindNotFound:      "not-found",
	KindIllegalState:  "illegal-state",
	KindDuplicateKey:  "duplicate-key",
	KindInvalidBucket: "invalid-bucket",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "unknown"
}

// KindOf returns the kind of err. Codec decode failures count as
// [KindCorrupt] and a wrapped [os.ErrNotExist] as [KindMissing].
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrIllegalState):
		return KindIllegalState
	case errors.Is(err, ErrInvalidBucket):
		return KindInvalidBucket
	case errors.Is(err, ErrLockBusy):
		return KindLockBusy
	case errors.Is(err, ErrFileExists):
		return KindFileExists
	case errors.Is(err, ErrDuplicateKey):
		return KindDuplicateKey
	case errors.Is(err, ErrCorrupt), errors.Is(err, codec.ErrDecode):
		return KindCorrupt
	case errors.Is(err, ErrMissing), errors.Is(err, os.ErrNotExist):
		return KindMissing
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindOther
	}
}
