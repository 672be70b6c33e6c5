// Package prefetch keeps a few pre-selected entities ready per chat.
//
// The spawn path takes from the buffer without I/O and falls back to
// synchronous selection when it is empty. Refills run in the background,
// at most one per chat at a time, and never block the caller. A failed
// refill is dropped silently; the next take simply misses.
package prefetch

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/spawn/types"
)

// FillFunc selects one entity for chatID.
type FillFunc func(ctx context.Context, chatID int64) (types.Entity, error)

// ValidFunc reports whether a buffered entity may still be spawned.
type ValidFunc func(ctx context.Context, e types.Entity) bool

// Launcher starts background work; supervise.Supervisor.Once satisfies it.
type Launcher func(name string, fn func(ctx context.Context) error) error

type buffer struct {
	mu        sync.Mutex
	items     []types.Entity
	refilling bool
}

// Queue holds per-chat buffers.
type Queue struct {
	depth   int
	fill    FillFunc
	launch  Launcher
	metrics types.MetricsCollector
	buffers *xsync.Map[int64, *buffer]
}

// New creates a queue.
//
// Parameters:
//   - depth: Target buffer size per chat (values < 1 disable prefetching)
//   - fill: Selection function used by refills
//   - launch: Starts background refills
//   - metrics: Receives hit/miss/stale/refill_failed counts
//
// Returns:
//   - *Queue: Empty queue
func New(depth int, fill FillFunc, launch Launcher, metrics types.MetricsCollector) *Queue {
	return &Queue{
		depth:   depth,
		fill:    fill,
		launch:  launch,
		metrics: metrics,
		buffers: xsync.NewMap[int64, *buffer](),
	}
}

// Enabled reports whether prefetching is on.
func (q *Queue) Enabled() bool {
	return q.depth > 0
}

func (q *Queue) bufferFor(chatID int64) *buffer {
	if b, ok := q.buffers.Load(chatID); ok {
		return b
	}
	b, _ := q.buffers.LoadOrStore(chatID, &buffer{})

	return b
}

// TryTake pops the oldest buffered entity that is still valid.
//
// Stale entries are discarded. A refill is scheduled whenever the buffer is
// below depth afterwards.
//
// Parameters:
//   - ctx: Context for validity checks
//   - chatID: Chat being spawned into
//   - valid: Re-check applied to each buffered entity
//
// Returns:
//   - types.Entity: Buffered entity
//   - bool: false on miss
func (q *Queue) TryTake(ctx context.Context, chatID int64, valid ValidFunc) (types.Entity, bool) {
	if !q.Enabled() {
		return types.Entity{}, false
	}

	b := q.bufferFor(chatID)
	defer q.Refill(chatID)

	for {
		b.mu.Lock()
		if len(b.items) == 0 {
			b.mu.Unlock()
			q.metrics.RecordPrefetch("miss")

			return types.Entity{}, false
		}
		e := b.items[0]
		b.items = b.items[1:]
		b.mu.Unlock()

		if valid == nil || valid(ctx, e) {
			q.metrics.RecordPrefetch("hit")
			return e, true
		}
		q.metrics.RecordPrefetch("stale")
	}
}

// Refill tops the chat's buffer up to depth in the background.
//
// Returns immediately. A refill already running for the chat absorbs the call.
func (q *Queue) Refill(chatID int64) {
	if !q.Enabled() {
		return
	}

	b := q.bufferFor(chatID)

	b.mu.Lock()
	if b.refilling || len(b.items) >= q.depth {
		b.mu.Unlock()
		return
	}
	b.refilling = true
	b.mu.Unlock()

	err := q.launch("prefetch-refill", func(ctx context.Context) error {
		finished := false
		defer func() {
			if !finished {
				b.mu.Lock()
				b.refilling = false
				b.mu.Unlock()
			}
		}()

		for {
			// The flag is cleared under the same lock that observes a full
			// buffer, so a concurrent Refill never sees a stale "refilling".
			b.mu.Lock()
			if len(b.items) >= q.depth || ctx.Err() != nil {
				b.refilling = false
				finished = true
				b.mu.Unlock()

				return nil
			}
			b.mu.Unlock()

			e, err := q.fill(ctx, chatID)
			if err != nil {
				q.metrics.RecordPrefetch("refill_failed")
				return nil
			}

			b.mu.Lock()
			if len(b.items) < q.depth {
				b.items = append(b.items, e)
			}
			b.mu.Unlock()
		}
	})
	if err != nil {
		b.mu.Lock()
		b.refilling = false
		b.mu.Unlock()
	}
}

// Len returns the number of buffered entities for chatID.
func (q *Queue) Len(chatID int64) int {
	b, ok := q.buffers.Load(chatID)
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}

// Forget drops the chat's buffer.
func (q *Queue) Forget(chatID int64) {
	q.buffers.Delete(chatID)
}

// Purge empties every buffer, e.g. after settings were invalidated.
func (q *Queue) Purge() {
	q.buffers.Range(func(_ int64, b *buffer) bool {
		b.mu.Lock()
		b.items = nil
		b.mu.Unlock()

		return true
	})
}
