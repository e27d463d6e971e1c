package arraycache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/p4swarm/recordcache/pkg/codec"
	"github.com/p4swarm/recordcache/pkg/fs"
)

// Reader gives keyed and sequential access to a published bucket.
//
// The index is loaded whole on open; element bytes are read on demand with
// positional reads, so [Reader.Get] and any number of [Iterator]s never share
// a file cursor. The shared lock is held until [Reader.Close].
//
// Reader is not safe for concurrent use.
type Reader struct {
	path   string
	lock   *fs.Lock
	file   fs.File
	size   int64
	ix     *index
	closed bool
}

// OpenReader opens the bucket whose data file is path.
//
// It waits, without bound, for any writer holding the exclusive lock. Returns
// [ErrMissing] if the data file or index does not exist and [ErrCorrupt] if
// the index cannot be decoded or points outside the data file. On error
// nothing is left open.
func OpenReader(fsys fs.FS, locker *fs.Locker, path string) (*Reader, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}

	if !exists {
		return nil, fmt.Errorf("open reader %s: %w", path, ErrMissing)
	}

	lock, err := locker.RLock(path)
	if err != nil {
		// Invalidated or aborted between the check and the lock.
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open reader %s: %w", path, ErrMissing)
		}

		return nil, fmt.Errorf("open reader %s: lock: %w", path, err)
	}

	r, err := loadReader(fsys, lock, path)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open reader %s: %w", path, err), lock.Close())
	}

	return r, nil
}

func loadReader(fsys fs.FS, lock *fs.Lock, path string) (*Reader, error) {
	file := lock.File()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat data: %w", err)
	}

	data, err := fsys.ReadFile(IndexPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("index: %w", ErrMissing)
		}

		return nil, fmt.Errorf("read index: %w", err)
	}

	ix, err := decodeIndex(data, info.Size())
	if err != nil {
		return nil, err
	}

	return &Reader{
		path: path,
		lock: lock,
		file: file,
		size: info.Size(),
		ix:   ix,
	}, nil
}

// Path returns the data file path.
func (r *Reader) Path() string { return r.path }

// DataSize returns the size of the data file when it was opened.
func (r *Reader) DataSize() int64 { return r.size }

// Len returns the number of elements.
func (r *Reader) Len() int { return len(r.ix.keys) }

// Keys returns all keys in write order. The slice is a copy.
func (r *Reader) Keys() []string { return append([]string(nil), r.ix.keys...) }

// Has reports whether key is in the bucket. Matching is case-sensitive.
func (r *Reader) Has(key string) bool {
	_, ok := r.ix.spans[key]

	return ok
}

// Entry returns where key's element sits in the data file.
func (r *Reader) Entry(key string) (Entry, bool) {
	e, ok := r.ix.spans[key]

	return e, ok
}

// Get returns the decoded element stored under key. A missing key is not an
// error: found is false and err is nil.
func (r *Reader) Get(key string) (value any, found bool, err error) {
	if r.closed {
		return nil, false, fmt.Errorf("get %q: %w: reader closed", key, ErrIllegalState)
	}

	e, ok := r.ix.spans[key]
	if !ok {
		return nil, false, nil
	}

	v, err := r.readElement(key, e)
	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// LookupCaseInsensitive returns the first key, in write order, equal to key
// under Unicode case folding. It scans every key.
func (r *Reader) LookupCaseInsensitive(key string) (string, bool) {
	for _, k := range r.ix.keys {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}

	return "", false
}

func (r *Reader) readElement(key string, e Entry) (any, error) {
	buf := make([]byte, e.Length)

	n, err := r.file.ReadAt(buf, e.Offset)
	if n == len(buf) {
		err = nil
	}

	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %q: %w: data truncated at %d", key, ErrCorrupt, e.Offset+int64(n))
		}

		return nil, fmt.Errorf("read %q: %w", key, err)
	}

	v, err := codec.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w: %w", key, ErrCorrupt, err)
	}

	return v, nil
}

// Close releases the shared lock. Closing twice returns [ErrIllegalState].
func (r *Reader) Close() error {
	if r.closed {
		return fmt.Errorf("close reader: %w", ErrIllegalState)
	}

	r.closed = true

	return r.lock.Close()
}
