// Package supervise runs engine background tasks.
//
// Long-running tasks (queue drain workers, the flush loop) are restarted with jittered
// backoff when they return an error or panic. One-shot tasks (daily count
// increments, hook callbacks) run once with panic recovery. Every task is
// tracked so Stop can wait for all of them.
package supervise

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/metrics"
	"github.com/arloliu/spawn/types"
)

// ErrStopped is returned when scheduling work on a stopped supervisor.
var ErrStopped = errors.New("supervisor stopped")

// Options configures restart behavior.
type Options struct {
	// BackoffBase is the first restart delay (default 50ms).
	BackoffBase time.Duration

	// BackoffMax caps restart delays (default 5s).
	BackoffMax time.Duration

	// BackoffMultiplier grows the delay between consecutive restarts (default 2).
	BackoffMultiplier float64

	// Seed makes jitter deterministic when non-zero.
	Seed int64

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Supervisor owns a set of background tasks sharing one lifecycle context.
type Supervisor struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	stopped bool
}

// New creates a supervisor whose tasks observe a context derived from parent.
//
// Parameters:
//   - parent: Parent context; cancelling it stops all tasks
//   - opts: Restart and observability options
//
// Returns:
//   - *Supervisor: Ready to accept tasks
func New(parent context.Context, opts Options) *Supervisor {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 50 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Second
	}
	if opts.BackoffMultiplier <= 0 {
		opts.BackoffMultiplier = 2
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Supervisor{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		rng:    newRetryRNG(opts.Seed),
	}
}

// Context returns the lifecycle context shared by all tasks.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

func (s *Supervisor) add() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.wg.Add(1)

	return true
}

// Go runs fn until it returns nil or the lifecycle context is cancelled,
// restarting it after an error or panic.
//
// Parameters:
//   - name: Task name used in logs and the restart metric
//   - fn: Task body; must return when ctx is done
//
// Returns:
//   - error: ErrStopped if the supervisor no longer accepts tasks
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) error {
	if !s.add() {
		return ErrStopped
	}

	go func() {
		defer s.wg.Done()

		var delay time.Duration
		for {
			err := s.runProtected(fn)
			if err == nil || s.ctx.Err() != nil {
				return
			}

			delay = s.nextDelay(delay)
			s.opts.Logger.Warn("background task failed, restarting",
				"task", name, "error", err, "backoff", delay)
			s.opts.Metrics.RecordTaskRestart(name)

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()

	return nil
}

// Once runs fn a single time in the background with panic recovery.
//
// Errors are logged at warn level and otherwise dropped.
//
// Returns:
//   - error: ErrStopped if the supervisor no longer accepts tasks
func (s *Supervisor) Once(name string, fn func(ctx context.Context) error) error {
	if !s.add() {
		return ErrStopped
	}

	go func() {
		defer s.wg.Done()

		if err := s.runProtected(fn); err != nil && !errors.Is(err, context.Canceled) {
			s.opts.Logger.Warn("background task failed", "task", name, "error", err)
		}
	}()

	return nil
}

func (s *Supervisor) runProtected(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return fn(s.ctx)
}

func (s *Supervisor) nextDelay(prev time.Duration) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	return jitterBackoff(prev, s.opts.BackoffBase, s.opts.BackoffMultiplier, s.opts.BackoffMax, s.rng)
}

// Stop cancels the lifecycle context and waits for every task to return.
//
// Parameters:
//   - ctx: Bounds the wait
//
// Returns:
//   - error: ctx.Err() if tasks did not finish in time
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	return s.Wait(ctx)
}

// Wait blocks until all tasks returned or ctx is done, without cancelling them.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
