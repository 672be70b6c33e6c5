// Package flush runs the periodic durability flush.
//
// The engine persists every drop as it is installed; the flush loop is the
// safety net that re-persists the whole in-memory set on an interval so a
// failed save is retried on the next cycle. Failures are reported and never
// stop the loop.
package flush

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/arloliu/spawn/types"
)

// Common errors for flush loop operations.
var (
	ErrNotStarted     = errors.New("flush loop not started")
	ErrAlreadyStarted = errors.New("flush loop already started")
)

// Func performs one flush cycle.
type Func func(ctx context.Context) error

// Launcher runs a long-lived task, restarting it when it fails.
type Launcher interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// Loop calls a Func on a fixed interval.
type Loop struct {
	interval time.Duration
	timeout  time.Duration
	fn       Func
	logger   types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a flush loop.
//
// Parameters:
//   - interval: Time between cycles
//   - timeout: Upper bound for a single cycle
//   - fn: Cycle body
//   - logger: Receives cycle failures
//
// Returns:
//   - *Loop: Stopped loop; call Start to run it
//
// Example:
//
//	loop := flush.New(30*time.Second, 10*time.Second, engine.Flush, logger)
//	_ = loop.Start(supervisor)
//	defer loop.Stop(ctx)
func New(interval, timeout time.Duration, fn Func, logger types.Logger) *Loop {
	return &Loop{
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		logger:   logger,
	}
}

// Start runs the loop as a task of tasks until Stop or cancellation of the
// launcher's context.
//
// Returns:
//   - error: ErrAlreadyStarted if the loop is running, or a launch failure
func (l *Loop) Start(tasks Launcher) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrAlreadyStarted
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	err := tasks.Go("flush", func(ctx context.Context) error {
		l.run(ctx, stopCh)
		close(doneCh)

		return nil
	})
	if err != nil {
		return fmt.Errorf("start flush loop: %w", err)
	}

	l.started = true
	l.stopCh = stopCh
	l.doneCh = doneCh

	return nil
}

// Stop ends the loop and runs one final cycle bounded by ctx.
//
// Returns:
//   - error: ErrNotStarted if the loop is not running, or the final cycle's error
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return ErrNotStarted
	}
	l.started = false
	close(l.stopCh)
	doneCh := l.doneCh
	l.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	return l.cycle(ctx)
}

// IsStarted reports whether the loop is running.
func (l *Loop) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.started
}

func (l *Loop) run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, l.timeout)
			err := l.cycle(cycleCtx)
			cancel()

			if err != nil {
				l.logger.Warn("flush cycle failed, retrying next interval", "error", err, "interval", l.interval)
			}
		}
	}
}

func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flush panic: %v\n%s", r, debug.Stack())
		}
	}()

	return l.fn(ctx)
}
