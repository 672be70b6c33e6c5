package flush

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/supervise"
)

func newTasks(t *testing.T) *supervise.Supervisor {
	t.Helper()

	tasks := supervise.New(t.Context(), supervise.Options{})
	t.Cleanup(func() { _ = tasks.Stop(context.Background()) })

	return tasks
}

func TestLoop_RunsPeriodically(t *testing.T) {
	var cycles atomic.Int64
	loop := New(10*time.Millisecond, time.Second, func(context.Context) error {
		cycles.Add(1)
		return nil
	}, logging.NewNop())

	require.NoError(t, loop.Start(newTasks(t)))
	require.True(t, loop.IsStarted())

	require.Eventually(t, func() bool { return cycles.Load() >= 3 }, time.Second, 5*time.Millisecond)

	before := cycles.Load()
	require.NoError(t, loop.Stop(t.Context()))
	require.False(t, loop.IsStarted())
	require.GreaterOrEqual(t, cycles.Load(), before+1, "Stop runs one final cycle")
}

func TestLoop_FailuresDoNotStopLoop(t *testing.T) {
	var cycles atomic.Int64
	loop := New(5*time.Millisecond, time.Second, func(context.Context) error {
		if cycles.Add(1)%2 == 0 {
			panic("store exploded")
		}
		return errors.New("store unavailable")
	}, logging.NewNop())

	require.NoError(t, loop.Start(newTasks(t)))
	require.Eventually(t, func() bool { return cycles.Load() >= 4 }, time.Second, time.Millisecond)

	err := loop.Stop(t.Context())
	require.Error(t, err)
}

func TestLoop_StartStopErrors(t *testing.T) {
	loop := New(time.Hour, time.Second, func(context.Context) error { return nil }, logging.NewNop())

	require.ErrorIs(t, loop.Stop(t.Context()), ErrNotStarted)
	tasks := newTasks(t)
	require.NoError(t, loop.Start(tasks))
	require.ErrorIs(t, loop.Start(tasks), ErrAlreadyStarted)
	require.NoError(t, loop.Stop(t.Context()))

	require.NoError(t, loop.Start(tasks), "loop can be restarted")
	require.NoError(t, loop.Stop(t.Context()))
}

func TestLoop_EndsWithLauncher(t *testing.T) {
	var cycles atomic.Int64
	loop := New(time.Hour, time.Second, func(context.Context) error {
		cycles.Add(1)
		return nil
	}, logging.NewNop())

	tasks := newTasks(t)
	require.NoError(t, loop.Start(tasks))
	require.NoError(t, tasks.Stop(t.Context()), "the loop exits when its launcher stops")

	require.NoError(t, loop.Stop(t.Context()))
	require.EqualValues(t, 1, cycles.Load(), "Stop still runs the final cycle")

	require.ErrorIs(t, loop.Start(tasks), supervise.ErrStopped)
	require.False(t, loop.IsStarted())
}
