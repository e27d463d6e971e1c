package fs

import (
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	// Read faults
	ReadFailRate    float64 // Fail Read/ReadAt/ReadFile entirely
	PartialReadRate float64 // Return truncated data on ReadAt/ReadFile

	// Write faults
	WriteFailRate    float64 // Fail Write/WriteFileAtomic entirely
	PartialWriteRate float64 // Write partial data then fail (simulates ENOSPC mid-write)
	SyncFailRate     float64 // Fail File.Sync

	// Other faults
	OpenFailRate   float64 // Fail OpenFile
	RemoveFailRate float64 // Fail Remove
	StatFailRate   float64 // Fail Stat/Exists
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		ReadFailRate:     0.02,
		PartialReadRate:  0.02,
		WriteFailRate:    0.02,
		PartialWriteRate: 0.03,
		SyncFailRate:     0.01,
		OpenFailRate:     0.02,
		RemoveFailRate:   0.02,
		StatFailRate:     0.01,
	}
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection.
	ChaosModeInject
)

// Chaos wraps an [FS] and injects failures for testing.
//
// Errors are reality-aware: ENOENT is never injected, so callers that branch on
// os.IsNotExist only see it when the file is really missing. All injected
// errors are *fs.PathError values carrying a syscall.Errno so errors.Is works
// the same as for real failures; use [IsInjected] to tell them apart.
//
// Chaos starts in [ChaosModeInject]. Use [Chaos.SetMode] to switch, for
// example to set up fixtures through a passthrough phase.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	mu  sync.Mutex
	rng *rand.Rand

	// Counters for testing verification
	openFails     atomic.Int64
	readFails     atomic.Int64
	writeFails    atomic.Int64
	partialReads  atomic.Int64
	partialWrites atomic.Int64
	syncFails     atomic.Int64
	removeFails   atomic.Int64
	statFails     atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	c := &Chaos{
		fs:     fs,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
	c.mode.Store(uint32(ChaosModeInject))

	return c
}

// SetMode switches between passthrough and injection.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// ChaosStats reports how many faults of each kind were injected.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	WriteFails    int64
	PartialReads  int64
	PartialWrites int64
	SyncFails     int64
	RemoveFails   int64
	StatFails     int64
}

// Stats returns a snapshot of the fault counters.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialReads:  c.partialReads.Load(),
		PartialWrites: c.partialWrites.Load(),
		SyncFails:     c.syncFails.Load(),
		RemoveFails:   c.removeFails.Load(),
		StatFails:     c.statFails.Load(),
	}
}

// TotalFaults returns the sum of all injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.ReadFails + s.WriteFails + s.PartialReads +
		s.PartialWrites + s.SyncFails + s.RemoveFails + s.StatFails
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeInject || rate <= 0 {
		return false
	}

	if rate >= 1 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) randIntn(n int) int {
	if n <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Intn(n)
}

func (c *Chaos) injectPathError(op, path string, errno syscall.Errno) error {
	err := &fs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(err)

	return err
}

// --- File Operations ---

// OpenFile opens path with flags, possibly failing with EIO.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, c.injectPathError("open", path, syscall.EIO)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// ReadFile reads path, possibly failing or returning a truncated prefix.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, c.injectPathError("read", path, syscall.EIO)
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 && c.should(c.config.PartialReadRate) {
		c.partialReads.Add(1)

		return data[:c.randIntn(len(data))], nil
	}

	return data, nil
}

// WriteFileAtomic fails before touching path when a write fault fires, so
// the previous content (if any) survives, the same as a failed rename.
func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return c.injectPathError("write", path, syscall.ENOSPC)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

// --- Directory Operations ---

// ReadDir is a passthrough.
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

// MkdirAll is a passthrough.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// --- Metadata ---

// Stat returns file info, possibly failing with EIO.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, c.injectPathError("stat", path, syscall.EIO)
	}

	return c.fs.Stat(path)
}

// Exists reports whether path exists, possibly failing with EIO.
func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, c.injectPathError("stat", path, syscall.EIO)
	}

	return c.fs.Exists(path)
}

// --- Mutations ---

// Remove deletes path, possibly failing with EACCES.
func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return c.injectPathError("remove", path, syscall.EACCES)
	}

	return c.fs.Remove(path)
}

// chaosFile wraps a File and injects read/write/sync faults.
// Fd, Stat, Seek, Truncate and Close pass through, so flock keeps working.
type chaosFile struct {
	File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	if cf.chaos.should(cf.chaos.config.ReadFailRate) {
		cf.chaos.readFails.Add(1)

		return 0, cf.chaos.injectPathError("read", cf.path, syscall.EIO)
	}

	return cf.File.Read(p)
}

func (cf *chaosFile) ReadAt(p []byte, off int64) (int, error) {
	if cf.chaos.should(cf.chaos.config.ReadFailRate) {
		cf.chaos.readFails.Add(1)

		return 0, cf.chaos.injectPathError("read", cf.path, syscall.EIO)
	}

	if len(p) > 1 && cf.chaos.should(cf.chaos.config.PartialReadRate) {
		cf.chaos.partialReads.Add(1)
		n, err := cf.File.ReadAt(p[:cf.chaos.randIntn(len(p))], off)
		if err != nil {
			return n, err
		}

		return n, cf.chaos.injectPathError("read", cf.path, syscall.EIO)
	}

	return cf.File.ReadAt(p, off)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	if cf.chaos.should(cf.chaos.config.WriteFailRate) {
		cf.chaos.writeFails.Add(1)

		return 0, cf.chaos.injectPathError("write", cf.path, syscall.EIO)
	}

	if len(p) > 1 && cf.chaos.should(cf.chaos.config.PartialWriteRate) {
		cf.chaos.partialWrites.Add(1)
		n, err := cf.File.Write(p[:cf.chaos.randIntn(len(p))])
		if err != nil {
			return n, err
		}

		return n, cf.chaos.injectPathError("write", cf.path, syscall.ENOSPC)
	}

	return cf.File.Write(p)
}

func (cf *chaosFile) Sync() error {
	if cf.chaos.should(cf.chaos.config.SyncFailRate) {
		cf.chaos.syncFails.Add(1)

		return cf.chaos.injectPathError("sync", cf.path, syscall.EIO)
	}

	return cf.File.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
