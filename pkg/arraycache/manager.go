package arraycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p4swarm/recordcache/pkg/fs"
)

// Enumerator streams the full, current contents of a bucket into w. It is
// called only when a rebuild is needed and should write records as they
// arrive rather than collecting them first.
type Enumerator func(ctx context.Context, w ElementWriter) error

// Manager owns a cache directory and the buckets in it.
//
// A Manager holds no open files; it is safe for concurrent use and cheap to
// share. Coordination with other processes goes through file locks only.
type Manager struct {
	dir            string
	fs             fs.FS
	locker         *fs.Locker
	log            *slog.Logger
	timeLimit      TimeLimit
	rebuildLimit   time.Duration
	rebuildTimeout time.Duration
}

// Option configures a [Manager].
type Option func(*Manager)

// WithFS sets the filesystem. Defaults to [fs.NewReal].
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) { m.fs = fsys }
}

// WithLogger sets the logger for rebuild events. Defaults to discarding.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithTimeLimit makes rebuilds raise tl to rebuildLimit (zero for none) while
// they run, restoring the previous limit afterwards.
func WithTimeLimit(tl TimeLimit, rebuildLimit time.Duration) Option {
	return func(m *Manager) {
		m.timeLimit = tl
		m.rebuildLimit = rebuildLimit
	}
}

// WithRebuildTimeout bounds how long an [Enumerator] may run. Zero means no
// bound beyond the caller's context.
func WithRebuildTimeout(d time.Duration) Option {
	return func(m *Manager) { m.rebuildTimeout = d }
}

// NewManager returns a Manager for dir, creating the directory if needed.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("new manager: cache directory is empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("new manager: %w", err)
	}

	m := &Manager{
		dir: abs,
		fs:  fs.NewReal(),
		log: slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.locker = fs.NewLocker(m.fs)

	if err := m.fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("new manager: create %s: %w", abs, err)
	}

	return m, nil
}

// Dir returns the absolute cache directory.
func (m *Manager) Dir() string { return m.dir }

// Path returns the data file path of bucket.
//
// Bucket names are single path elements; they may not be empty, start with a
// dot, or contain a path separator or [IndexSuffix].
func (m *Manager) Path(bucket string) (string, error) {
	if err := validateBucket(bucket); err != nil {
		return "", err
	}

	return filepath.Join(m.dir, bucket), nil
}

func validateBucket(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidBucket)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidBucket, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, filepath.Separator):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidBucket, name)
	case strings.Contains(name, IndexSuffix):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidBucket, name, IndexSuffix)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidBucket, name)
	}

	return nil
}

// Open opens bucket without rebuilding it.
func (m *Manager) Open(bucket string) (*Reader, error) {
	path, err := m.Path(bucket)
	if err != nil {
		return nil, err
	}

	return OpenReader(m.fs, m.locker, path)
}

// GetOrBuild returns a Reader for bucket, rebuilding it with enumerate when
// it cannot be opened.
//
// If another process is already rebuilding, GetOrBuild does not build too;
// it waits for that writer and reads its result. When both the rebuild and
// the final open fail, the rebuild error is returned since it says why the
// bucket is unusable.
func (m *Manager) GetOrBuild(ctx context.Context, bucket string, enumerate Enumerator) (*Reader, error) {
	path, err := m.Path(bucket)
	if err != nil {
		return nil, err
	}

	r, readErr := OpenReader(m.fs, m.locker, path)
	if readErr == nil {
		return r, nil
	}

	switch KindOf(readErr) {
	case KindIllegalState, KindInvalidBucket:
		return nil, readErr
	}

	if enumerate == nil {
		return nil, readErr
	}

	buildErr := m.rebuild(ctx, bucket, path, readErr, enumerate)

	r, err = OpenReader(m.fs, m.locker, path)
	if err == nil {
		return r, nil
	}

	if buildErr != nil {
		return nil, buildErr
	}

	return nil, err
}

// Rebuild unconditionally rebuilds bucket. Returns [ErrLockBusy] if another
// writer is active.
func (m *Manager) Rebuild(ctx context.Context, bucket string, enumerate Enumerator) (int, error) {
	path, err := m.Path(bucket)
	if err != nil {
		return 0, err
	}

	return m.build(ctx, bucket, path, nil, enumerate)
}

func (m *Manager) rebuild(ctx context.Context, bucket, path string, cause error, enumerate Enumerator) error {
	_, err := m.build(ctx, bucket, path, cause, enumerate)
	if errors.Is(err, ErrLockBusy) {
		return nil
	}

	return err
}

func (m *Manager) build(ctx context.Context, bucket, path string, cause error, enumerate Enumerator) (int, error) {
	log := m.log.With("bucket", bucket, "session", newSessionID())

	if cause != nil {
		log.Info("rebuild needed", "kind", KindOf(cause).String(), "cause", cause)
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rebuild %s: %w", bucket, context.Cause(ctx))
	}

	if m.timeLimit != nil {
		prev := m.timeLimit.Limit()
		m.timeLimit.SetLimit(m.rebuildLimit)

		defer m.timeLimit.SetLimit(prev)
	}

	w, err := CreateWriter(m.fs, m.locker, path, true)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			log.Info("rebuild skipped: another writer is active")
		}

		return 0, fmt.Errorf("rebuild %s: %w", bucket, err)
	}

	start := time.Now()

	if err := runEnumerator(ctx, m.rebuildTimeout, w, enumerate); err != nil {
		log.Warn("rebuild failed", "elements", w.Len(), "err", err)

		return 0, errors.Join(fmt.Errorf("rebuild %s: %w", bucket, err), w.Abort())
	}

	n := w.Len()

	if err := w.Close(); err != nil {
		log.Warn("rebuild failed", "elements", n, "err", err)

		return 0, fmt.Errorf("rebuild %s: %w", bucket, err)
	}

	log.Info("rebuild finished", "elements", n, "duration", time.Since(start))

	return n, nil
}

// runEnumerator aborts w if enumerate panics, so the lock and the partial
// data file do not outlive the panic.
func runEnumerator(ctx context.Context, timeout time.Duration, w *Writer, enumerate Enumerator) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			_ = w.Abort()

			panic(p)
		}
	}()

	return enumerate(ctx, ctxWriter{ctx: ctx, w: w})
}

// ctxWriter stops a rebuild between elements once ctx is done.
type ctxWriter struct {
	ctx context.Context
	w   *Writer
}

func (c ctxWriter) WriteElement(key string, value any) error {
	if c.ctx.Err() != nil {
		return context.Cause(c.ctx)
	}

	return c.w.WriteElement(key, value)
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Invalidate deletes bucket so the next [Manager.GetOrBuild] rebuilds it.
// The index goes first; a data file without an index is never read.
// Invalidating a missing bucket is not an error.
func (m *Manager) Invalidate(bucket string) error {
	path, err := m.Path(bucket)
	if err != nil {
		return err
	}

	for _, p := range []string{IndexPath(path), path} {
		if err := m.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("invalidate %s: %w", bucket, err)
		}
	}

	m.log.Info("bucket invalidated", "bucket", bucket)

	return nil
}

// BucketInfo describes one bucket on disk.
type BucketInfo struct {
	Name      string
	Ready     bool // false while building or after a failed build
	Elements  int
	DataSize  int64
	IndexSize int64
	ModTime   time.Time
}

// Buckets lists the buckets in the cache directory, sorted by name. It reads
// index files without locking, so a bucket mid-rebuild shows as not ready.
func (m *Manager) Buckets() ([]BucketInfo, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	var out []BucketInfo

	for _, e := range entries {
		if !e.Type().IsRegular() || validateBucket(e.Name()) != nil {
			continue
		}

		info, err := m.stat(e.Name())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		out = append(out, info)
	}

	slices.SortFunc(out, func(a, b BucketInfo) int { return strings.Compare(a.Name, b.Name) })

	return out, nil
}

// Stat describes bucket. Returns an error matching [ErrMissing] if its data
// file does not exist.
func (m *Manager) Stat(bucket string) (BucketInfo, error) {
	if err := validateBucket(bucket); err != nil {
		return BucketInfo{}, err
	}

	info, err := m.stat(bucket)
	if errors.Is(err, os.ErrNotExist) {
		return BucketInfo{}, fmt.Errorf("stat %s: %w", bucket, ErrMissing)
	}

	return info, err
}

func (m *Manager) stat(bucket string) (BucketInfo, error) {
	path := filepath.Join(m.dir, bucket)

	dataInfo, err := m.fs.Stat(path)
	if err != nil {
		return BucketInfo{}, fmt.Errorf("stat %s: %w", bucket, err)
	}

	info := BucketInfo{
		Name:     bucket,
		DataSize: dataInfo.Size(),
		ModTime:  dataInfo.ModTime(),
	}

	data, err := m.fs.ReadFile(IndexPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, nil
		}

		return BucketInfo{}, fmt.Errorf("stat %s: %w", bucket, err)
	}

	ix, err := decodeIndex(data, dataInfo.Size())
	if err != nil {
		return info, nil
	}

	info.Ready = true
	info.Elements = len(ix.keys)
	info.IndexSize = int64(len(data))

	return info, nil
}
