package arraycache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/p4swarm/recordcache/pkg/codec"
	"github.com/p4swarm/recordcache/pkg/fs"
)

const indexFilePerm = 0o644

// ElementWriter receives the elements of a rebuild. [*Writer] implements it.
type ElementWriter interface {
	WriteElement(key string, value any) error
}

type writerState uint8

const (
	writerOpen writerState = iota
	writerFailed
	writerClosed
)

// Writer builds one bucket: it appends encoded elements to the data file and
// persists the index on [Writer.Close].
//
// A Writer holds the data file's exclusive lock from [CreateWriter] until
// Close or [Writer.Abort]. Exactly one of the two must be called, usually via
// defer; otherwise the lock is held until the process exits.
//
// Writer is not safe for concurrent use.
type Writer struct {
	fs   fs.FS
	path string
	lock *fs.Lock
	buf  *bufio.Writer

	ix      *index
	cursor  int64
	scratch bytes.Buffer

	state writerState
	err   error
}

// CreateWriter opens path for a rebuild and takes its exclusive lock without
// waiting.
//
// Returns [ErrFileExists] if truncateExisting is false and path exists, and
// [ErrLockBusy] if another writer holds the lock. Under the lock, any index
// left from a previous build is removed and the data file is truncated, so
// readers see the bucket as missing until Close publishes the new index.
func CreateWriter(fsys fs.FS, locker *fs.Locker, path string, truncateExisting bool) (*Writer, error) {
	if !truncateExisting {
		exists, err := fsys.Exists(path)
		if err != nil {
			return nil, fmt.Errorf("create writer: %w", err)
		}

		if exists {
			return nil, fmt.Errorf("create writer %s: %w", path, ErrFileExists)
		}
	}

	lock, err := locker.TryLock(path)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("create writer %s: %w", path, ErrLockBusy)
		}

		return nil, fmt.Errorf("create writer %s: lock: %w", path, err)
	}

	if err := resetBucket(fsys, lock.File(), path); err != nil {
		return nil, errors.Join(fmt.Errorf("create writer %s: %w", path, err), lock.Close())
	}

	return &Writer{
		fs:   fsys,
		path: path,
		lock: lock,
		buf:  bufio.NewWriter(lock.File()),
		ix:   newIndex(),
	}, nil
}

// resetBucket drops the stale index before touching data, so a crash in
// between never leaves an index pointing into a truncated file.
func resetBucket(fsys fs.FS, f fs.File, path string) error {
	if err := fsys.Remove(IndexPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale index: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	return nil
}

// Path returns the data file path.
func (w *Writer) Path() string { return w.path }

// Len returns the number of elements written so far.
func (w *Writer) Len() int { return len(w.ix.keys) }

// WriteElement appends value under key.
//
// Keys must be unique within one Writer; a repeat returns [ErrDuplicateKey]
// and writes nothing. Any other error fails the Writer: later writes return
// [ErrIllegalState] and Close will not publish an index.
func (w *Writer) WriteElement(key string, value any) error {
	switch w.state {
	case writerOpen:
	case writerFailed:
		return fmt.Errorf("write element %q: %w: writer failed: %w", key, ErrIllegalState, w.err)
	default:
		return fmt.Errorf("write element %q: %w: writer closed", key, ErrIllegalState)
	}

	if _, dup := w.ix.spans[key]; dup {
		return fmt.Errorf("write element %q: %w", key, ErrDuplicateKey)
	}

	w.scratch.Reset()

	if err := codec.EncodeTo(&w.scratch, value); err != nil {
		return w.fail(fmt.Errorf("write element %q: encode: %w", key, err))
	}

	n, err := w.buf.Write(w.scratch.Bytes())
	if err != nil {
		return w.fail(fmt.Errorf("write element %q: %w", key, err))
	}

	w.ix.add(key, Entry{Offset: w.cursor, Length: int64(n)})
	w.cursor += int64(n)

	return nil
}

func (w *Writer) fail(err error) error {
	w.state = writerFailed
	w.err = err

	return err
}

// Close flushes and syncs the data file, publishes the index atomically and
// releases the lock. Zero elements is valid and yields a known-empty bucket.
//
// If the Writer failed earlier, Close behaves like [Writer.Abort] and returns
// the original failure. A second Close returns [ErrIllegalState].
func (w *Writer) Close() error {
	switch w.state {
	case writerClosed:
		return fmt.Errorf("close writer: %w", ErrIllegalState)
	case writerFailed:
		return errors.Join(w.err, w.Abort())
	}

	w.state = writerClosed

	err := w.commit()
	if err != nil {
		err = fmt.Errorf("close writer %s: %w", w.path, err)
	}

	return errors.Join(err, w.lock.Close())
}

func (w *Writer) commit() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if err := w.lock.File().Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	data, err := w.ix.encode()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if err := w.checkNotReplaced(); err != nil {
		return err
	}

	// Written while the exclusive lock is still held; readers waiting on the
	// shared lock see either no index or the complete one.
	if err := w.fs.WriteFileAtomic(IndexPath(w.path), data, indexFilePerm); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	return nil
}

// checkNotReplaced fails if the bucket was invalidated while building. The
// index must not be published next to a data file it does not describe.
func (w *Writer) checkNotReplaced() error {
	locked, err := w.lock.File().Stat()
	if err != nil {
		return fmt.Errorf("stat data: %w", err)
	}

	current, err := w.fs.Stat(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat data: %w", err)
	}

	if err != nil || !os.SameFile(locked, current) {
		return fmt.Errorf("%w: data file was invalidated during rebuild", ErrMissing)
	}

	return nil
}

// Abort releases the lock without publishing an index and removes the
// partial data file, unless the bucket was invalidated meanwhile. Abort after Close returns [ErrIllegalState].
func (w *Writer) Abort() error {
	if w.state == writerClosed {
		return fmt.Errorf("abort writer: %w", ErrIllegalState)
	}

	w.state = writerClosed

	var errs []error

	// A replaced path belongs to someone else now.
	if w.checkNotReplaced() == nil {
		if err := w.fs.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("abort writer %s: remove data: %w", w.path, err))
		}
	}

	errs = append(errs, w.lock.Close())

	return errors.Join(errs...)
}
