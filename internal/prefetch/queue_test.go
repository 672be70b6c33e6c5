package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/internal/metrics"
	"github.com/arloliu/spawn/internal/supervise"
	"github.com/arloliu/spawn/types"
)

func sequentialFill(calls *atomic.Int64) FillFunc {
	return func(_ context.Context, chatID int64) (types.Entity, error) {
		n := calls.Add(1)
		return types.Entity{ID: fmt.Sprintf("%d-%d", chatID, n), Rarity: "Common"}, nil
	}
}

func newQueue(t *testing.T, depth int, fill FillFunc) *Queue {
	t.Helper()

	sup := supervise.New(t.Context(), supervise.Options{})
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	return New(depth, fill, sup.Once, metrics.NewNop())
}

func TestQueue_RefillToDepth(t *testing.T) {
	var calls atomic.Int64
	q := newQueue(t, 3, sequentialFill(&calls))

	_, ok := q.TryTake(t.Context(), 1, nil)
	require.False(t, ok, "cold buffer misses")

	require.Eventually(t, func() bool { return q.Len(1) == 3 }, time.Second, time.Millisecond)
	require.EqualValues(t, 3, calls.Load())

	e, ok := q.TryTake(t.Context(), 1, nil)
	require.True(t, ok)
	require.Equal(t, "1-1", e.ID, "FIFO order")

	require.Eventually(t, func() bool { return q.Len(1) == 3 }, time.Second, time.Millisecond)
	require.EqualValues(t, 4, calls.Load())
}

func TestQueue_DiscardsStaleEntries(t *testing.T) {
	var calls atomic.Int64
	q := newQueue(t, 3, sequentialFill(&calls))

	q.Refill(7)
	require.Eventually(t, func() bool { return q.Len(7) == 3 }, time.Second, time.Millisecond)

	e, ok := q.TryTake(t.Context(), 7, func(_ context.Context, e types.Entity) bool {
		return e.ID == "7-3"
	})
	require.True(t, ok)
	require.Equal(t, "7-3", e.ID)
}

func TestQueue_RefillFailureIsSilent(t *testing.T) {
	q := newQueue(t, 2, func(context.Context, int64) (types.Entity, error) {
		return types.Entity{}, errors.New("pool unavailable")
	})

	q.Refill(1)
	time.Sleep(10 * time.Millisecond)

	_, ok := q.TryTake(t.Context(), 1, nil)
	require.False(t, ok)
}

func TestQueue_SingleRefillPerChat(t *testing.T) {
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int64
	var mu sync.Mutex

	q := newQueue(t, 2, func(ctx context.Context, chatID int64) (types.Entity, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		mu.Unlock()
		defer inFlight.Add(-1)

		select {
		case <-release:
		case <-ctx.Done():
		}

		return types.Entity{ID: "x"}, nil
	})

	for range 20 {
		q.Refill(1)
	}
	close(release)

	require.Eventually(t, func() bool { return q.Len(1) == 2 }, time.Second, time.Millisecond)
	require.EqualValues(t, 1, maxInFlight.Load())
}

func TestQueue_Disabled(t *testing.T) {
	var calls atomic.Int64
	q := newQueue(t, 0, sequentialFill(&calls))

	q.Refill(1)
	_, ok := q.TryTake(t.Context(), 1, nil)
	require.False(t, ok)
	require.False(t, q.Enabled())
	require.Zero(t, calls.Load())
}

func TestQueue_ForgetAndPurge(t *testing.T) {
	var calls atomic.Int64
	q := newQueue(t, 2, sequentialFill(&calls))

	q.Refill(1)
	q.Refill(2)
	require.Eventually(t, func() bool { return q.Len(1) == 2 && q.Len(2) == 2 }, time.Second, time.Millisecond)

	q.Forget(1)
	require.Zero(t, q.Len(1))

	q.Purge()
	require.Zero(t, q.Len(2))
}
