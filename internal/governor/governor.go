// Package governor absorbs activity bursts.
//
// Load is the number of events being processed plus the number queued. Once
// load reaches the high-water mark the governor turns hot and callers route
// activity through a bounded queue; it cools down again once load falls to
// the low-water mark. Queued events are drained by a fixed set of workers.
// Each chat hashes to one worker shard, so events of the same chat are
// drained in arrival order.
package governor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/spawn/types"
)

// Handler processes one drained event.
type Handler func(ctx context.Context, msg types.ChatMessage)

// Launcher runs a long-lived task, restarting it when it fails.
type Launcher interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// Config tunes the governor.
type Config struct {
	// Capacity is the total queue size across shards.
	Capacity int

	// HighWater is the load at which activity starts being queued.
	HighWater int

	// LowWater is the load at which direct processing resumes.
	LowWater int

	// Workers is the number of drain shards.
	Workers int

	// PopTimeout bounds how long a worker waits for an event before re-checking shutdown.
	PopTimeout time.Duration
}

// Governor is the overload queue with its drain workers.
type Governor struct {
	cfg     Config
	handle  Handler
	metrics types.MetricsCollector
	logger  types.Logger

	shards   []chan types.ChatMessage
	depth    atomic.Int64
	inflight atomic.Int64
	hot      atomic.Bool

	// mu is read-locked by Enqueue so Stop cannot close the queue between
	// the state check and the send.
	mu      sync.RWMutex
	running bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped governor.
//
// Parameters:
//   - cfg: Queue and hysteresis settings
//   - handle: Called by workers for each drained event
//   - logger: Receives mode changes
//   - metrics: Receives depth, mode and overflow metrics
//
// Returns:
//   - *Governor: Call Start to launch workers
func New(cfg Config, handle Handler, logger types.Logger, metrics types.MetricsCollector) *Governor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	perShard := cfg.Capacity / cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 100 * time.Millisecond
	}

	shards := make([]chan types.ChatMessage, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan types.ChatMessage, perShard)
	}

	return &Governor{
		cfg:     cfg,
		handle:  handle,
		metrics: metrics,
		logger:  logger,
		shards:  shards,
		stopCh:  make(chan struct{}),
	}
}

// Start launches one drain worker per shard through tasks.
//
// Workers process events with the launcher's context; cancelling it makes
// them exit without draining. A worker that fails is restarted by tasks on
// the same shard.
//
// Parameters:
//   - tasks: Runs and restarts the drain workers
//
// Returns:
//   - error: types.ErrAlreadyStarted, types.ErrGovernorStopped, or a launch failure
func (g *Governor) Start(tasks Launcher) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return types.ErrAlreadyStarted
	}
	if g.stopped {
		return types.ErrGovernorStopped
	}
	g.running = true

	for i := range g.shards {
		g.wg.Add(1)
		err := tasks.Go(fmt.Sprintf("governor-drain-%d", i), func(ctx context.Context) error {
			g.drain(ctx, i)
			g.wg.Done()

			return nil
		})
		if err != nil {
			g.wg.Done()
			return fmt.Errorf("start drain worker %d: %w", i, err)
		}
	}

	return nil
}

// Stop stops accepting events and waits for workers to drain what is queued.
//
// Returns:
//   - error: ctx.Err() if draining did not finish in time
func (g *Governor) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	wasRunning := g.running
	close(g.stopCh)
	g.mu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hot reports whether new activity should be queued, updating the mode
// with hysteresis.
func (g *Governor) Hot() bool {
	load := g.Load()

	if g.hot.Load() {
		if load <= int64(g.cfg.LowWater) && g.hot.CompareAndSwap(true, false) {
			g.metrics.RecordGovernorMode(false)
			g.logger.Info("overload governor cooled down", "load", load)
		}
	} else if load >= int64(g.cfg.HighWater) && g.hot.CompareAndSwap(false, true) {
		g.metrics.RecordGovernorMode(true)
		g.logger.Warn("overload governor engaged, queueing activity", "load", load)
	}

	return g.hot.Load()
}

// Load returns in-flight plus queued events.
func (g *Governor) Load() int64 {
	return g.inflight.Load() + g.depth.Load()
}

// Depth returns the number of queued events.
func (g *Governor) Depth() int {
	return int(g.depth.Load())
}

// Enter marks one event as being processed directly and returns its completion func.
//
// Example:
//
//	done := gov.Enter()
//	defer done()
func (g *Governor) Enter() func() {
	g.inflight.Add(1)
	return func() { g.inflight.Add(-1) }
}

// Enqueue queues msg on its chat's shard.
//
// Returns:
//   - error: types.ErrQueueFull when the shard has no room,
//     types.ErrGovernorStopped after Stop
func (g *Governor) Enqueue(msg types.ChatMessage) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.stopped || !g.running {
		return types.ErrGovernorStopped
	}

	select {
	case g.shards[g.shardFor(msg.ChatID)] <- msg:
		g.metrics.RecordQueueDepth(int(g.depth.Add(1)))
		return nil
	default:
		g.metrics.RecordQueueOverflow()
		return types.ErrQueueFull
	}
}

func (g *Governor) shardFor(chatID int64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(chatID)) //nolint:gosec // bit pattern only

	return int(xxh3.Hash(buf[:]) % uint64(len(g.shards)))
}

func (g *Governor) drain(ctx context.Context, shard int) {
	ch := g.shards[shard]
	timer := time.NewTimer(g.cfg.PopTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-ch:
			g.process(ctx, msg)
			continue
		default:
		}

		timer.Reset(g.cfg.PopTimeout)
		select {
		case msg := <-ch:
			g.process(ctx, msg)
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-g.stopCh:
			g.flushShard(ctx, ch)
			return
		}
	}
}

// flushShard processes whatever is left in ch after Stop.
func (g *Governor) flushShard(ctx context.Context, ch chan types.ChatMessage) {
	for {
		select {
		case msg := <-ch:
			g.process(ctx, msg)
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

func (g *Governor) process(ctx context.Context, msg types.ChatMessage) {
	g.inflight.Add(1)
	g.metrics.RecordQueueDepth(int(g.depth.Add(-1)))

	defer g.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("overload queue handler panicked", "chat_id", msg.ChatID, "panic", r)
		}
	}()

	g.handle(ctx, msg)
}
