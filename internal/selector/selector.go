// Package selector picks the entity to spawn.
//
// Selection is two-staged. A rarity is drawn first: one uniform draw in
// [0, total weight) over the allowed rarities, resolved by a cumulative
// scan in sorted rarity order. Then an entity is drawn uniformly within
// that rarity. A rarity is allowed when it has positive weight, is not
// locked, is below its daily cap and has at least one candidate.
package selector

import (
	"context"
	"fmt"
	rand "math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/spawn/internal/poolcache"
	"github.com/arloliu/spawn/types"
)

// Rand is the randomness source used for draws. *rand.Rand satisfies it.
type Rand interface {
	Int64N(n int64) int64
	IntN(n int) int
}

// LockedRand makes a Rand safe for concurrent use.
type LockedRand struct {
	mu sync.Mutex
	r  Rand
}

// NewLockedRand wraps r. A nil r uses a PCG generator seeded from seed.
func NewLockedRand(r Rand, seed uint64) *LockedRand {
	if r == nil {
		r = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // selection is not security sensitive
	}

	return &LockedRand{r: r}
}

// Int64N implements Rand.
func (l *LockedRand) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.r.Int64N(n)
}

// IntN implements Rand.
func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.r.IntN(n)
}

// Pick chooses an entity from pool under settings on day.
//
// Deterministic for a given sequence of draws.
//
// Parameters:
//   - settings: Weights, caps, counts and locks
//   - pool: Candidate entities
//   - day: UTC day used for cap evaluation
//   - rng: Randomness source
//
// Returns:
//   - types.Entity: Chosen entity
//   - bool: false if no rarity is allowed
func Pick(settings types.RaritySettings, pool []types.Entity, day time.Time, rng Rand) (types.Entity, bool) {
	byRarity := make(map[types.Rarity][]types.Entity)
	for _, e := range pool {
		if allowed(settings, e.Rarity, day) {
			byRarity[e.Rarity] = append(byRarity[e.Rarity], e)
		}
	}
	if len(byRarity) == 0 {
		return types.Entity{}, false
	}

	rarities := make([]types.Rarity, 0, len(byRarity))
	var total int64
	for r := range byRarity {
		rarities = append(rarities, r)
		total += settings.Weights[r]
	}
	slices.Sort(rarities)

	draw := rng.Int64N(total)
	chosen := rarities[len(rarities)-1]
	var cumulative int64
	for _, r := range rarities {
		cumulative += settings.Weights[r]
		if draw < cumulative {
			chosen = r
			break
		}
	}

	candidates := byRarity[chosen]

	return candidates[rng.IntN(len(candidates))], true
}

func allowed(settings types.RaritySettings, r types.Rarity, day time.Time) bool {
	return settings.Weights[r] > 0 && !settings.IsLocked(r) && !settings.AtCap(r, day)
}

// Selector combines the cache with Pick.
type Selector struct {
	cache *poolcache.Cache
	rng   Rand
	clock func() time.Time
}

// New creates a selector.
func New(cache *poolcache.Cache, rng Rand, clock func() time.Time) *Selector {
	if clock == nil {
		clock = time.Now
	}

	return &Selector{cache: cache, rng: rng, clock: clock}
}

// Select picks an entity without side effects.
//
// The daily count is not touched; callers take a pick with Reserve right
// before announcing it, so prefetched picks that are never used do not count.
//
// Returns:
//   - types.Entity: Chosen entity
//   - error: types.ErrPoolExhausted when nothing is eligible, or a fetch error
func (s *Selector) Select(ctx context.Context) (types.Entity, error) {
	settings, err := s.cache.Settings(ctx)
	if err != nil {
		return types.Entity{}, err
	}

	now := s.clock()
	exclusions := types.Exclusions{Rarities: settings.Excluded(now)}

	pool, err := s.cache.Pool(ctx, exclusions)
	if err != nil {
		return types.Entity{}, err
	}

	entity, ok := Pick(settings, pool, now, s.rng)
	if !ok {
		return types.Entity{}, types.ErrPoolExhausted
	}

	return entity, nil
}

// Valid reports whether e may still be spawned now (rarity not locked or capped).
//
// Used to re-check prefetched picks, which may have gone stale while queued.
func (s *Selector) Valid(ctx context.Context, e types.Entity) bool {
	settings, err := s.cache.Settings(ctx)
	if err != nil {
		return false
	}

	return allowed(settings, e.Rarity, s.clock())
}

// Resolve looks up an entity for an admin force spawn.
func (s *Selector) Resolve(ctx context.Context, id string) (types.Entity, error) {
	e, err := s.cache.Entity(ctx, id)
	if err != nil {
		return types.Entity{}, fmt.Errorf("resolve entity %q: %w", id, err)
	}

	return e, nil
}

// Reserve counts e against its rarity's daily cap before it is announced.
//
// Returns:
//   - bool: false if the cap was reached since e was picked; the pick must be discarded
func (s *Selector) Reserve(e types.Entity) bool {
	return s.cache.Reserve(e.Rarity)
}

// Release undoes Reserve for a spawn that was never announced.
func (s *Selector) Release(e types.Entity) {
	s.cache.Unreserve(e.Rarity)
}

// IncrementSource forwards a committed pick to the settings source.
func (s *Selector) IncrementSource(ctx context.Context, e types.Entity) error {
	return s.cache.IncrementSource(ctx, e.Rarity)
}
