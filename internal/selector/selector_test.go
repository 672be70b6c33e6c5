package selector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/internal/poolcache"
	"github.com/arloliu/spawn/types"
)

// scripted returns pre-recorded draws.
type scripted struct {
	int64s []int64
	ints   []int
}

func (s *scripted) Int64N(n int64) int64 {
	v := s.int64s[0] % n
	s.int64s = s.int64s[1:]

	return v
}

func (s *scripted) IntN(n int) int {
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0] % n
	s.ints = s.ints[1:]

	return v
}

var day = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testPool() []types.Entity {
	return []types.Entity{
		{ID: "c1", Name: "Storm", Rarity: "Common"},
		{ID: "c2", Name: "Cyclops", Rarity: "Common"},
		{ID: "l1", Name: "Jean Grey", Rarity: "Legendary"},
		{ID: "r1", Name: "Rogue", Rarity: "Rare"},
	}
}

func testSettings() types.RaritySettings {
	return types.RaritySettings{
		Weights:   map[types.Rarity]int64{"Common": 70, "Legendary": 5, "Rare": 25},
		DailyCaps: map[types.Rarity]int{"Legendary": 2},
	}
}

func TestPick_CumulativeScan(t *testing.T) {
	// Sorted order: Common [0,70), Legendary [70,75), Rare [75,100)
	tests := []struct {
		draw int64
		want types.Rarity
	}{
		{0, "Common"},
		{69, "Common"},
		{70, "Legendary"},
		{74, "Legendary"},
		{75, "Rare"},
		{99, "Rare"},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			e, ok := Pick(testSettings(), testPool(), day, &scripted{int64s: []int64{tt.draw}})
			require.True(t, ok)
			require.Equal(t, tt.want, e.Rarity)
		})
	}
}

func TestPick_UniformWithinRarity(t *testing.T) {
	e, ok := Pick(testSettings(), testPool(), day, &scripted{int64s: []int64{10}, ints: []int{1}})
	require.True(t, ok)
	require.Equal(t, "c2", e.ID)
}

func TestPick_Exclusions(t *testing.T) {
	t.Run("locked rarity is skipped", func(t *testing.T) {
		s := testSettings()
		s.Locked = []types.Rarity{"Common", "Rare"}

		e, ok := Pick(s, testPool(), day, &scripted{int64s: []int64{0}})
		require.True(t, ok)
		require.Equal(t, types.Rarity("Legendary"), e.Rarity)
	})

	t.Run("capped rarity is skipped", func(t *testing.T) {
		s := testSettings()
		s.DailyCounts = map[types.Rarity]int{"Legendary": 2}
		s.CountsDay = day

		for draw := range int64(100) {
			e, ok := Pick(s, testPool(), day, &scripted{int64s: []int64{draw}})
			require.True(t, ok)
			require.NotEqual(t, types.Rarity("Legendary"), e.Rarity)
		}
	})

	t.Run("zero weight and missing candidates", func(t *testing.T) {
		s := testSettings()
		s.Weights["Common"] = 0
		pool := []types.Entity{{ID: "c1", Rarity: "Common"}, {ID: "m1", Rarity: "Mythic"}}

		_, ok := Pick(s, pool, day, &scripted{int64s: []int64{0}})
		require.False(t, ok)
	})

	t.Run("empty pool", func(t *testing.T) {
		_, ok := Pick(testSettings(), nil, day, &scripted{})
		require.False(t, ok)
	})
}

func TestPick_Distribution(t *testing.T) {
	rng := NewLockedRand(nil, 99)
	counts := make(map[types.Rarity]int)
	const n = 20000

	for range n {
		e, ok := Pick(testSettings(), testPool(), day, rng)
		require.True(t, ok)
		counts[e.Rarity]++
	}

	require.InDelta(t, 0.70, float64(counts["Common"])/n, 0.02)
	require.InDelta(t, 0.25, float64(counts["Rare"])/n, 0.02)
	require.InDelta(t, 0.05, float64(counts["Legendary"])/n, 0.01)
}

type staticSource struct {
	mu       sync.Mutex
	settings types.RaritySettings
	pool     []types.Entity
}

func (s *staticSource) RaritySettings(context.Context) (types.RaritySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.settings.Clone(), nil
}

func (s *staticSource) IncrementDailyCount(context.Context, types.Rarity) error { return nil }

func (s *staticSource) EligiblePool(_ context.Context, x types.Exclusions) ([]types.Entity, error) {
	var out []types.Entity
	for _, e := range s.pool {
		if !x.ExcludesRarity(e.Rarity) {
			out = append(out, e)
		}
	}

	return out, nil
}

func (s *staticSource) Entity(_ context.Context, id string) (types.Entity, error) {
	for _, e := range s.pool {
		if e.ID == id {
			return e, nil
		}
	}

	return types.Entity{}, types.ErrEntityNotFound
}

// Daily cap for "Legendary" is 2: after two reserved Legendary spawns on a
// UTC day no further Legendary is selected until the day rolls over.
func TestSelector_DailyCapUntilRollover(t *testing.T) {
	src := &staticSource{
		settings: types.RaritySettings{
			Weights:   map[types.Rarity]int64{"Legendary": 50, "Common": 50},
			DailyCaps: map[types.Rarity]int{"Legendary": 2},
		},
		pool: []types.Entity{
			{ID: "l1", Name: "Jean Grey", Rarity: "Legendary"},
			{ID: "c1", Name: "Storm", Rarity: "Common"},
		},
	}

	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return now
	}

	cache := poolcache.New(src, src, poolcache.Options{TTL: time.Hour, Clock: clock})
	sel := New(cache, NewLockedRand(nil, 7), clock)
	ctx := t.Context()

	legendaries := 0
	for range 200 {
		e, err := sel.Select(ctx)
		require.NoError(t, err)
		if e.Rarity == "Legendary" {
			legendaries++
		}
		require.True(t, sel.Reserve(e))
	}
	require.Equal(t, 2, legendaries)
	require.False(t, sel.Valid(ctx, types.Entity{ID: "l1", Rarity: "Legendary"}))

	mu.Lock()
	now = now.Add(5 * time.Hour)
	mu.Unlock()

	require.True(t, sel.Valid(ctx, types.Entity{ID: "l1", Rarity: "Legendary"}))

	legendaries = 0
	for range 200 {
		e, err := sel.Select(ctx)
		require.NoError(t, err)
		if e.Rarity == "Legendary" {
			legendaries++
		}
		require.True(t, sel.Reserve(e))
	}
	require.Equal(t, 2, legendaries)
}

func TestSelector_PoolExhausted(t *testing.T) {
	src := &staticSource{
		settings: types.RaritySettings{
			Weights: map[types.Rarity]int64{"Legendary": 1},
			Locked:  []types.Rarity{"Legendary"},
		},
		pool: []types.Entity{{ID: "l1", Rarity: "Legendary"}},
	}
	cache := poolcache.New(src, src, poolcache.Options{TTL: time.Hour})
	sel := New(cache, NewLockedRand(nil, 1), nil)

	_, err := sel.Select(t.Context())
	require.ErrorIs(t, err, types.ErrPoolExhausted)

	_, err = sel.Resolve(t.Context(), "missing")
	require.ErrorIs(t, err, types.ErrEntityNotFound)
}
