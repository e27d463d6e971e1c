package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned by [Locker.TryLock] when the lock is held by
	// another process.
	ErrWouldBlock = errors.New("lock would block")

	// errInodeMismatch is an internal sentinel indicating the locked file was
	// replaced between open and flock. Callers should retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// Locker provides file-based locking using flock(2).
//
// flock is advisory and applies to an inode (an open file), not a pathname. All
// cooperating readers/writers must take the lock for it to have effect.
//
// The record cache locks the data file itself: writers hold an exclusive lock
// for the whole rebuild, readers hold a shared lock for as long as they are
// open. The locked descriptor is exposed through [Lock.File] so the holder
// reads and writes through the same inode it locked.
//
// Locker verifies that the file descriptor it locked still refers to the file
// currently at path at the moment the lock is acquired (protecting the
// open→lock window). If the file is replaced after acquisition (for example a
// bucket is invalidated by unlinking it), the lock keeps guarding the old
// inode, which is exactly what an open reader needs.
//
// Exclusive locks open the file with O_RDWR; shared locks open with O_RDONLY.
//
// This implementation is Unix-only.
//
// Locker has no internal mutable state beyond its dependencies. It is safe for
// concurrent use as long as the underlying [FS] implementation is safe for
// concurrent use.
type Locker struct {
	fs    FS
	perm  os.FileMode
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that uses the given filesystem for file operations.
// Files created by the Locker get mode 0o644.
func NewLocker(fs FS) *Locker {
	return &Locker{
		fs:    fs,
		perm:  lockFilePerm,
		flock: unix.Flock,
	}
}

// Lock represents a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// File returns the locked file descriptor, or nil once the lock is closed.
func (lk *Lock) File() File {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	return lk.file
}

// Close releases the lock and closes the underlying file descriptor.
//
// Close is idempotent - calling it multiple times is safe and subsequent calls
// return nil.
//
// Close attempts an explicit unlock first; closing the descriptor releases the
// flock anyway, so if only the unlock fails the lock is still gone. If both
// unlocking and closing fail, Close returns an error that wraps both
// underlying errors (see [errors.Join]).
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// RLock acquires a shared (read) lock on the file at path, blocking until the
// lock is available.
//
// Multiple processes can hold shared locks simultaneously, but a shared lock
// blocks exclusive locks and vice versa.
//
// Unlike [Locker.TryLock], RLock never creates the file: a missing path returns
// an error satisfying errors.Is(err, os.ErrNotExist). Readers must not conjure
// empty files into existence.
func (l *Locker) RLock(path string) (*Lock, error) {
	return l.lockBlocking(path, sharedLock, false)
}

// TryLock attempts to acquire an exclusive lock without blocking.
//
// Returns immediately with [ErrWouldBlock] if the lock cannot be acquired
// immediately. The file is created if it does not exist.
func (l *Locker) TryLock(path string) (*Lock, error) {
	file, err := l.openLockFile(path, openFlagForLockType(exclusiveLock), true)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	err = l.acquire(file, path, exclusiveLock, lockModeNonBlocking)
	if err == nil {
		return &Lock{file: file, flock: l.flock}, nil
	}

	_ = file.Close()

	if errors.Is(err, errInodeMismatch) {
		return nil, fmt.Errorf("%w: file was replaced while acquiring lock", ErrWouldBlock)
	}

	return nil, err
}

type lockType int

const (
	sharedLock    lockType = unix.LOCK_SH
	exclusiveLock lockType = unix.LOCK_EX
)

type lockMode int

const (
	lockModeBlocking lockMode = iota + 1
	lockModeNonBlocking
)

func (l *Locker) lockBlocking(path string, lt lockType, create bool) (*Lock, error) {
	openFlag := openFlagForLockType(lt)

	for {
		file, err := l.openLockFile(path, openFlag, create)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}

		err = l.acquire(file, path, lt, lockModeBlocking)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

// acquire attempts to flock the given file and verify the inode still matches
// path. On failure, the file is unlocked (if needed) but NOT closed - the
// caller must close it.
//
// Returns:
//   - nil: lock acquired successfully
//   - ErrWouldBlock: lock held by another process (only when mode==lockModeNonBlocking)
//   - errInodeMismatch: file at path was replaced, caller should retry
//   - other error: something went wrong
func (l *Locker) acquire(file File, path string, lt lockType, mode lockMode) error {
	fd := int(file.Fd())

	flags := int(lt)
	if mode == lockModeNonBlocking {
		flags |= unix.LOCK_NB
	}

	if err := flockRetryEINTR(l.flock, fd, flags); err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.inodeMatchesPath(path, file)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)
		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o644
	lockDirPerm  = 0o755
)

func (l *Locker) openLockFile(path string, flag int, create bool) (File, error) {
	if !create {
		return l.fs.OpenFile(path, flag, 0)
	}

	f, err := l.fs.OpenFile(path, flag|os.O_CREATE, l.perm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, flag|os.O_CREATE, l.perm)
}

// inodeMatchesPath verifies that f (the open file descriptor we just locked)
// still refers to the file currently at path.
//
// flock locks by inode, not pathname. A bucket can be invalidated (unlinked)
// and rebuilt while a reader is blocked waiting for the rebuilding writer:
//
//  1. R opens path → gets inode X
//  2. bucket is invalidated, W rebuilds → path now points to inode Y
//  3. R successfully flocks inode X (still valid, but no longer "the bucket")
//
// Comparing (dev,inode) of the open fd to the current (dev,inode) at path
// (which is what [os.SameFile] does on Unix) catches this; callers unlock and
// retry on mismatch.
func (l *Locker) inodeMatchesPath(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	return os.SameFile(openInfo, pathInfo), nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

func openFlagForLockType(lt lockType) int {
	if lt == sharedLock {
		return os.O_RDONLY
	}

	return os.O_RDWR
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// EINTR means the syscall was interrupted by a signal before it could complete.
// Signals like SIGCHLD or SIGWINCH can interrupt a blocked flock; the call
// just needs to be retried. Retries are capped so a signal storm cannot spin
// forever.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
