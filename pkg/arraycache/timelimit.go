package arraycache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TimeLimit is a process-wide execution time limit. [Manager] raises it for
// the duration of a rebuild and restores the previous value afterwards.
//
// Setting a limit restarts the clock, and zero means no limit.
type TimeLimit interface {
	Limit() time.Duration
	SetLimit(d time.Duration)
}

// ErrTimeLimit is the cancellation cause of a [Watchdog] context that ran
// out of time.
var ErrTimeLimit = errors.New("arraycache: time limit exceeded")

// Watchdog is a [TimeLimit] that cancels a context when the limit elapses.
//
// It models a request deadline that long-running work can extend:
//
//	ctx, wd := arraycache.NewWatchdog(ctx, 30*time.Second)
//	defer wd.Stop()
//	m, _ := arraycache.NewManager(dir, arraycache.WithTimeLimit(wd, 10*time.Minute))
type Watchdog struct {
	mu     sync.Mutex
	limit  time.Duration
	timer  *time.Timer
	cancel context.CancelCauseFunc
}

// NewWatchdog returns a context that is canceled with [ErrTimeLimit] once
// limit passes without being reset.
func NewWatchdog(parent context.Context, limit time.Duration) (context.Context, *Watchdog) {
	ctx, cancel := context.WithCancelCause(parent)

	w := &Watchdog{cancel: cancel}
	w.SetLimit(limit)

	return ctx, w
}

// Limit returns the current limit.
func (w *Watchdog) Limit() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.limit
}

// SetLimit restarts the clock with limit d. Zero or negative disables it.
func (w *Watchdog) SetLimit(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	w.limit = max(d, 0)

	if w.limit > 0 {
		w.timer = time.AfterFunc(w.limit, func() { w.cancel(ErrTimeLimit) })
	}
}

// Stop disarms the watchdog and releases its context.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	w.cancel(context.Canceled)
}
