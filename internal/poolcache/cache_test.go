package poolcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/types"
)

type fakeSource struct {
	mu          sync.Mutex
	settings    types.RaritySettings
	settingsErr error
	pool        []types.Entity

	settingsCalls atomic.Int64
	poolCalls     atomic.Int64
	increments    atomic.Int64
}

func (f *fakeSource) RaritySettings(context.Context) (types.RaritySettings, error) {
	f.settingsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settingsErr != nil {
		return types.RaritySettings{}, f.settingsErr
	}

	return f.settings.Clone(), nil
}

func (f *fakeSource) IncrementDailyCount(context.Context, types.Rarity) error {
	f.increments.Add(1)
	return nil
}

func (f *fakeSource) EligiblePool(_ context.Context, x types.Exclusions) ([]types.Entity, error) {
	f.poolCalls.Add(1)

	var out []types.Entity
	for _, e := range f.pool {
		if !x.ExcludesRarity(e.Rarity) && !x.ExcludesEntity(e.ID) {
			out = append(out, e)
		}
	}

	return out, nil
}

func (f *fakeSource) Entity(_ context.Context, id string) (types.Entity, error) {
	for _, e := range f.pool {
		if e.ID == id {
			return e, nil
		}
	}

	return types.Entity{}, types.ErrEntityNotFound
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture() (*fakeSource, *clock, *Cache) {
	src := &fakeSource{
		settings: types.RaritySettings{
			Weights:   map[types.Rarity]int64{"Common": 80, "Legendary": 20},
			DailyCaps: map[types.Rarity]int{"Legendary": 2},
		},
		pool: []types.Entity{
			{ID: "c1", Name: "Storm", Rarity: "Common"},
			{ID: "l1", Name: "Jean Grey", Rarity: "Legendary"},
		},
	}
	clk := &clock{now: time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)}
	cache := New(src, src, Options{TTL: 30 * time.Second, Clock: clk.Now})

	return src, clk, cache
}

func TestCache_SettingsTTL(t *testing.T) {
	src, clk, cache := newFixture()

	_, err := cache.Settings(t.Context())
	require.NoError(t, err)
	_, err = cache.Settings(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 1, src.settingsCalls.Load(), "second read served from cache")

	clk.Advance(31 * time.Second)
	_, err = cache.Settings(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 2, src.settingsCalls.Load(), "expired snapshot refetched")
}

func TestCache_ServesStaleOnError(t *testing.T) {
	src, clk, cache := newFixture()

	_, err := cache.Settings(t.Context())
	require.NoError(t, err)

	src.mu.Lock()
	src.settingsErr = errors.New("db down")
	src.mu.Unlock()
	clk.Advance(time.Minute)

	s, err := cache.Settings(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(20), s.Weights["Legendary"])

	cache.Invalidate()
	_, err = cache.Settings(t.Context())
	require.Error(t, err, "no snapshot to fall back to")
}

func TestCache_ConcurrentRefreshSingleWriter(t *testing.T) {
	src, _, cache := newFixture()

	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			_, err := cache.Settings(t.Context())
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	require.EqualValues(t, 1, src.settingsCalls.Load())
}

func TestCache_DailyCountsRollOver(t *testing.T) {
	_, clk, cache := newFixture()
	ctx := t.Context()

	_, err := cache.Settings(ctx)
	require.NoError(t, err)

	require.True(t, cache.Reserve("Legendary"))
	require.True(t, cache.Reserve("Legendary"))
	require.False(t, cache.Reserve("Legendary"), "cap of 2 reached")

	s, err := cache.Settings(ctx)
	require.NoError(t, err)
	require.True(t, s.AtCap("Legendary", clk.Now()), "local counts enforce the cap before the source catches up")

	clk.Advance(2 * time.Hour) // past midnight UTC
	s, err = cache.Settings(ctx)
	require.NoError(t, err)
	require.False(t, s.AtCap("Legendary", clk.Now()))
	require.True(t, cache.Reserve("Legendary"))
}

func TestCache_MergeTakesMaxOfSourceAndLocal(t *testing.T) {
	src, clk, cache := newFixture()
	src.settings.DailyCounts = map[types.Rarity]int{"Legendary": 1}
	src.settings.CountsDay = types.UTCDay(clk.Now())

	s, err := cache.Settings(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, s.CountOn("Legendary", clk.Now()))

	// Local starts from the source count rather than zero.
	require.True(t, cache.Reserve("Legendary"))
	require.False(t, cache.Reserve("Legendary"))

	s, err = cache.Settings(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, s.CountOn("Legendary", clk.Now()))
}

func TestCache_ReserveIsAtomicAcrossGoroutines(t *testing.T) {
	_, _, cache := newFixture()
	_, err := cache.Settings(t.Context())
	require.NoError(t, err)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if cache.Reserve("Legendary") {
				granted.Add(1)
			}
		})
	}
	wg.Wait()

	require.EqualValues(t, 2, granted.Load())
}

func TestCache_Unreserve(t *testing.T) {
	src, clk, cache := newFixture()
	_, err := cache.Settings(t.Context())
	require.NoError(t, err)

	require.True(t, cache.Reserve("Legendary"))
	require.True(t, cache.Reserve("Legendary"))
	cache.Unreserve("Legendary")
	require.True(t, cache.Reserve("Legendary"), "a released unit can be taken again")

	s, err := cache.Settings(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, s.CountOn("Legendary", clk.Now()))
	require.Zero(t, src.increments.Load(), "the source is only told by IncrementSource")
}

func TestCache_Pool(t *testing.T) {
	src, clk, cache := newFixture()
	ctx := t.Context()

	all, err := cache.Pool(ctx, types.Exclusions{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	commons, err := cache.Pool(ctx, types.Exclusions{Rarities: []types.Rarity{"Legendary"}})
	require.NoError(t, err)
	require.Len(t, commons, 1)
	require.EqualValues(t, 2, src.poolCalls.Load())

	_, err = cache.Pool(ctx, types.Exclusions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, src.poolCalls.Load(), "cached")

	clk.Advance(time.Minute)
	_, err = cache.Pool(ctx, types.Exclusions{})
	require.NoError(t, err)
	require.EqualValues(t, 3, src.poolCalls.Load(), "expired")
}

func TestCache_PoolCapacity(t *testing.T) {
	src, _, _ := newFixture()
	cache := New(src, src, Options{TTL: time.Hour, MaxPools: 3})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := cache.Pool(t.Context(), types.Exclusions{EntityIDs: []string{id}})
		require.NoError(t, err)
	}

	require.LessOrEqual(t, cache.PoolEntries(), 3)
}

func TestExclusionKey_OrderInsensitive(t *testing.T) {
	a := exclusionKey(types.Exclusions{Rarities: []types.Rarity{"A", "B"}, EntityIDs: []string{"x", "y"}})
	b := exclusionKey(types.Exclusions{Rarities: []types.Rarity{"B", "A"}, EntityIDs: []string{"y", "x"}})
	c := exclusionKey(types.Exclusions{Rarities: []types.Rarity{"A"}, EntityIDs: []string{"B", "x", "y"}})

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
