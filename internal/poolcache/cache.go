// Package poolcache caches rarity settings and eligible pools with a TTL.
//
// Settings are read by every spawn and refreshed by one writer at a time;
// concurrent readers keep using the previous snapshot while a refresh is in
// flight, and a stale snapshot is served when a refresh fails. Pools are
// cached per exclusion set in a bounded map.
//
// Daily counts are also tracked locally: a reserved spawn raises the local
// count immediately so caps hold before the source has been updated, and
// the effective count is the larger of the local and source values for the
// same UTC day.
package poolcache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/spawn/types"
)

// Options configures a Cache.
type Options struct {
	// TTL is how long settings and pools are served without refetching.
	TTL time.Duration

	// MaxPools bounds the number of cached exclusion sets.
	MaxPools int

	// Clock returns the current time (time.Now when nil).
	Clock func() time.Time

	Logger types.Logger
}

type settingsSnapshot struct {
	settings  types.RaritySettings
	fetchedAt time.Time
}

type poolEntry struct {
	entities  []types.Entity
	fetchedAt time.Time
}

// Cache fronts a PoolSource and a SettingsSource.
type Cache struct {
	pool     types.PoolSource
	settings types.SettingsSource
	opts     Options

	refreshMu sync.Mutex
	snapMu    sync.RWMutex
	snap      *settingsSnapshot

	pools *xsync.Map[uint64, *poolEntry]

	countsMu  sync.Mutex
	countsDay time.Time
	counts    map[types.Rarity]int
}

// New creates a cache over the given sources.
func New(pool types.PoolSource, settings types.SettingsSource, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxPools <= 0 {
		opts.MaxPools = 64
	}

	return &Cache{
		pool:     pool,
		settings: settings,
		opts:     opts,
		pools:    xsync.NewMap[uint64, *poolEntry](),
		counts:   make(map[types.Rarity]int),
	}
}

// Settings returns the current rarity settings with local daily counts merged in.
//
// A fresh snapshot is returned without I/O. Otherwise one caller refetches
// synchronously while the others wait for it; if the fetch fails and an old
// snapshot exists, the old snapshot is served.
//
// Returns:
//   - types.RaritySettings: Deep copy, safe to mutate
//   - error: Fetch error when no snapshot is available
func (c *Cache) Settings(ctx context.Context) (types.RaritySettings, error) {
	now := c.opts.Clock()

	if snap := c.current(); snap != nil && now.Sub(snap.fetchedAt) < c.opts.TTL {
		return c.merge(snap.settings, now), nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if snap := c.current(); snap != nil && now.Sub(snap.fetchedAt) < c.opts.TTL {
		return c.merge(snap.settings, now), nil
	}

	fetched, err := c.settings.RaritySettings(ctx)
	if err != nil {
		if snap := c.current(); snap != nil {
			if c.opts.Logger != nil {
				c.opts.Logger.Warn("settings refresh failed, serving stale snapshot",
					"error", err, "age", now.Sub(snap.fetchedAt))
			}

			return c.merge(snap.settings, now), nil
		}

		return types.RaritySettings{}, fmt.Errorf("fetch rarity settings: %w", err)
	}

	c.snapMu.Lock()
	c.snap = &settingsSnapshot{settings: fetched.Clone(), fetchedAt: now}
	c.snapMu.Unlock()

	return c.merge(fetched, now), nil
}

func (c *Cache) current() *settingsSnapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	return c.snap
}

// merge overlays local counts for today onto s.
func (c *Cache) merge(s types.RaritySettings, now time.Time) types.RaritySettings {
	out := s.Clone()
	today := types.UTCDay(now)

	merged := make(map[types.Rarity]int, len(out.DailyCounts))
	for r := range out.DailyCounts {
		merged[r] = out.CountOn(r, today)
	}

	c.countsMu.Lock()
	if c.countsDay.Equal(today) {
		for r, n := range c.counts {
			if n > merged[r] {
				merged[r] = n
			}
		}
	}
	c.countsMu.Unlock()

	out.DailyCounts = merged
	out.CountsDay = today

	return out
}

// Reserve takes one unit of r's daily cap for the current UTC day.
//
// The cap check and the increment happen under one lock, so spawns running
// concurrently in different chats cannot overshoot the cap. A rarity
// without a cap always succeeds. Unreserve returns the unit when the spawn
// is abandoned before it was announced.
//
// Returns:
//   - bool: false if r is already at its cap
func (c *Cache) Reserve(r types.Rarity) bool {
	today := types.UTCDay(c.opts.Clock())

	var base, limit int
	if snap := c.current(); snap != nil {
		base = snap.settings.CountOn(r, today)
		limit = snap.settings.DailyCaps[r]
	}

	c.countsMu.Lock()
	defer c.countsMu.Unlock()

	if !c.countsDay.Equal(today) {
		c.countsDay = today
		clear(c.counts)
	}
	if c.counts[r] < base {
		c.counts[r] = base
	}
	if limit > 0 && c.counts[r] >= limit {
		return false
	}
	c.counts[r]++

	return true
}

// Unreserve gives back a unit taken by Reserve on the same UTC day.
func (c *Cache) Unreserve(r types.Rarity) {
	today := types.UTCDay(c.opts.Clock())

	c.countsMu.Lock()
	defer c.countsMu.Unlock()

	if c.countsDay.Equal(today) && c.counts[r] > 0 {
		c.counts[r]--
	}
}

// Pool returns the eligible pool for exclusions, fetching it on a miss.
func (c *Cache) Pool(ctx context.Context, exclusions types.Exclusions) ([]types.Entity, error) {
	now := c.opts.Clock()
	key := exclusionKey(exclusions)

	if e, ok := c.pools.Load(key); ok && now.Sub(e.fetchedAt) < c.opts.TTL {
		return e.entities, nil
	}

	entities, err := c.pool.EligiblePool(ctx, exclusions)
	if err != nil {
		return nil, fmt.Errorf("fetch eligible pool: %w", err)
	}

	if c.pools.Size() >= c.opts.MaxPools {
		c.evictPools(now)
	}
	c.pools.Store(key, &poolEntry{entities: entities, fetchedAt: now})

	return entities, nil
}

// evictPools removes expired entries, then arbitrary ones until below capacity.
func (c *Cache) evictPools(now time.Time) {
	c.pools.Range(func(k uint64, e *poolEntry) bool {
		if now.Sub(e.fetchedAt) >= c.opts.TTL {
			c.pools.Delete(k)
		}
		return true
	})

	c.pools.Range(func(k uint64, _ *poolEntry) bool {
		if c.pools.Size() < c.opts.MaxPools {
			return false
		}
		c.pools.Delete(k)

		return true
	})
}

// Entity looks an entity up by ID without caching.
func (c *Cache) Entity(ctx context.Context, id string) (types.Entity, error) {
	return c.pool.Entity(ctx, id)
}

// IncrementSource forwards a committed spawn to the settings source.
func (c *Cache) IncrementSource(ctx context.Context, r types.Rarity) error {
	return c.settings.IncrementDailyCount(ctx, r)
}

// Invalidate drops cached settings and pools so the next read refetches.
// Local daily counts are kept.
func (c *Cache) Invalidate() {
	c.snapMu.Lock()
	c.snap = nil
	c.snapMu.Unlock()

	c.pools.Clear()
}

// PoolEntries returns the number of cached exclusion sets.
func (c *Cache) PoolEntries() int {
	return c.pools.Size()
}

func exclusionKey(x types.Exclusions) uint64 {
	rarities := make([]string, len(x.Rarities))
	for i, r := range x.Rarities {
		rarities[i] = string(r)
	}
	slices.Sort(rarities)

	ids := slices.Clone(x.EntityIDs)
	slices.Sort(ids)

	var b strings.Builder
	b.WriteString(strings.Join(rarities, "\x00"))
	b.WriteByte(0x01)
	b.WriteString(strings.Join(ids, "\x00"))

	return xxh3.HashString(b.String())
}
