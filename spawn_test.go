package spawn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legendaryOnly(caps int) RaritySettings {
	return RaritySettings{
		Weights:   map[Rarity]int64{"Legendary": 1},
		DailyCaps: map[Rarity]int{"Legendary": caps},
	}
}

func TestForceSpawn(t *testing.T) {
	f := startFixture(t)
	ctx := t.Context()

	drop, err := f.eng.ForceSpawn(ctx, testChat, "cyclops")
	require.NoError(t, err)
	require.Equal(t, "cyclops", drop.EntityID)
	require.Equal(t, "Cyclops", drop.DisplayName)
	require.Equal(t, Rarity("Rare"), drop.Rarity)
	require.Equal(t, int64(1001), drop.MessageID)
	require.NoError(t, drop.Validate())

	published := f.transport.PublishedIn(testChat)
	require.Len(t, published, 1)
	require.Equal(t, "media/cyclops.png", published[0].MediaRef)
	require.NotContains(t, published[0].Caption, "Cyclops", "the announcement must not give the name away")

	_, err = f.eng.ForceSpawn(ctx, testChat, "wolverine")
	require.ErrorIs(t, err, ErrEntityNotFound)

	_, err = f.eng.ForceSpawn(ctx, 0, "storm")
	require.ErrorIs(t, err, ErrInvalidChat)

	live, ok := f.eng.ActiveDrop(testChat)
	require.True(t, ok)
	require.Equal(t, drop, live)
}

func TestForceSpawn_SupersedesUnclaimedDrop(t *testing.T) {
	type supersession struct{ old, replacement DropRecord }
	events := make(chan supersession, 1)

	f := startFixture(t, withEngineOptions(WithHooks(&Hooks{
		OnSuperseded: func(_ context.Context, old, replacement DropRecord) error {
			events <- supersession{old, replacement}
			return nil
		},
	})))

	first, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	second, err := f.eng.ForceSpawn(t.Context(), testChat, "cyclops")
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, first, ev.old)
		require.Equal(t, second, ev.replacement)
	case <-time.After(time.Second):
		t.Fatal("OnSuperseded hook was not called")
	}

	persisted, err := f.store.LoadAll(t.Context())
	require.NoError(t, err)
	require.Equal(t, []DropRecord{second}, persisted[testChat])
}

func TestForceSpawn_SameEntityTwiceKeepsRecord(t *testing.T) {
	f := startFixture(t)

	_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	second, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)

	persisted, err := f.store.LoadAll(t.Context())
	require.NoError(t, err)
	require.Equal(t, []DropRecord{second}, persisted[testChat])
}

func TestForceSpawn_ConcurrentSpawnsLeaveOneDrop(t *testing.T) {
	f := startFixture(t)
	f.transport.SetDelay(2 * time.Millisecond)

	ids := []string{"storm", "cyclops", "jean-grey"}

	var wg sync.WaitGroup
	for i := range 30 {
		wg.Go(func() {
			_, err := f.eng.ForceSpawn(t.Context(), testChat, ids[i%len(ids)])
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	live, ok := f.eng.ActiveDrop(testChat)
	require.True(t, ok)

	persisted, err := f.store.LoadAll(t.Context())
	require.NoError(t, err)
	require.Equal(t, []DropRecord{live}, persisted[testChat])
	require.Len(t, f.transport.PublishedIn(testChat), 30)
}

func TestSpawn_PinsAnnouncement(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) { c.PinDrops = true }))

	drop, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	require.Equal(t, []int64{drop.MessageID}, f.transport.Pins())

	f.transport.FailPin(errors.New("not an admin"))
	_, err = f.eng.ForceSpawn(t.Context(), testChat, "cyclops")
	require.NoError(t, err, "pin failures are ignored")
}

func TestSpawn_RunsSpawnedHook(t *testing.T) {
	spawned := make(chan DropRecord, 1)
	f := startFixture(t, withEngineOptions(WithHooks(&Hooks{
		OnSpawned: func(_ context.Context, drop DropRecord) error {
			spawned <- drop
			return nil
		},
	})))

	out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 1))
	require.NoError(t, err)
	require.NotNil(t, out.Spawned)

	select {
	case drop := <-spawned:
		require.Equal(t, *out.Spawned, drop)
	case <-time.After(time.Second):
		t.Fatal("OnSpawned hook was not called")
	}
}

// Scenario C: a capped rarity stops spawning for the rest of the UTC day.
func TestSpawn_DailyCap(t *testing.T) {
	clock := newFakeClock()
	f := startFixture(t,
		withSettings(legendaryOnly(2)),
		withEngineOptions(WithClock(clock.Now)),
	)
	f.catalog.SetClock(clock.Now)
	ctx := t.Context()

	for range 2 {
		drop, err := f.eng.ForceSpawn(ctx, testChat, "")
		require.NoError(t, err)
		require.Equal(t, "jean-grey", drop.EntityID)
	}

	_, err := f.eng.ForceSpawn(ctx, testChat, "")
	require.ErrorIs(t, err, ErrPoolExhausted)

	out, err := f.eng.OnChatMessage(ctx, groupMsg(testChat-1, 1))
	require.NoError(t, err, "an exhausted pool is not an error for activity")
	require.Nil(t, out.Spawned)

	require.Eventually(t, func() bool {
		settings, err := f.catalog.RaritySettings(ctx)
		return err == nil && settings.DailyCounts["Legendary"] == 2
	}, time.Second, 5*time.Millisecond, "source counts follow the spawns")

	clock.Advance(24 * time.Hour)

	drop, err := f.eng.ForceSpawn(ctx, testChat, "")
	require.NoError(t, err)
	require.Equal(t, "jean-grey", drop.EntityID)
}

func TestSpawn_CapHoldsAcrossChats(t *testing.T) {
	f := startFixture(t, withSettings(legendaryOnly(3)))
	f.transport.SetDelay(2 * time.Millisecond)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			_, _ = f.eng.ForceSpawn(t.Context(), int64(-100-i), "")
		})
	}
	wg.Wait()

	require.Len(t, f.transport.Published(), 3)
}

func TestSpawn_TransportFailureReturnsCapSlot(t *testing.T) {
	f := startFixture(t, withSettings(legendaryOnly(1)))

	f.transport.FailPublish(errors.New("flood wait"))
	_, err := f.eng.ForceSpawn(t.Context(), testChat, "")
	require.ErrorIs(t, err, ErrTransportFailed)

	f.transport.FailPublish(nil)
	_, err = f.eng.ForceSpawn(t.Context(), testChat, "")
	require.NoError(t, err)

	_, err = f.eng.ForceSpawn(t.Context(), testChat, "")
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestSpawn_ExplicitEntityIgnoresCap(t *testing.T) {
	f := startFixture(t, withSettings(legendaryOnly(1)))

	for range 3 {
		_, err := f.eng.ForceSpawn(t.Context(), testChat, "jean-grey")
		require.NoError(t, err)
	}
}

func TestSpawn_UsesPrefetchedPicks(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) {
		c.Selection.PrefetchDepth = 2
		c.Selection.CacheTTL = time.Hour
	}))

	for range 5 {
		out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 1))
		require.NoError(t, err)
		require.NotNil(t, out.Spawned)
	}

	require.Eventually(t, func() bool {
		return f.eng.prefetch.Len(testChat) == 2
	}, time.Second, 5*time.Millisecond)

	// Locked rarities are skipped even when prefetched.
	f.catalog.UpdateSettings(RaritySettings{
		Weights: map[Rarity]int64{"Common": 1, "Rare": 1, "Legendary": 1},
		Locked:  []Rarity{"Common", "Rare"},
	})
	f.eng.cache.Invalidate()

	drop, err := f.eng.ForceSpawn(t.Context(), testChat, "")
	require.NoError(t, err)
	require.Equal(t, "jean-grey", drop.EntityID)
}

func TestClearDrop(t *testing.T) {
	f := startFixture(t)

	require.NoError(t, f.eng.ClearDrop(t.Context(), testChat), "clearing an empty chat is a no-op")

	drop, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	require.NoError(t, f.eng.ClearDrop(t.Context(), testChat))

	_, ok := f.eng.ActiveDrop(testChat)
	require.False(t, ok)
	require.Zero(t, f.store.Len())

	res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", drop.MessageID)
	require.NoError(t, err)
	require.Equal(t, RejectNoActiveDrop, res.Reason)
	require.Nil(t, res.LastClaim)
}

func TestClearDrop_PurgesOrphanedRecords(t *testing.T) {
	f := startFixture(t)
	spawned := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	orphan := DropRecord{ChatID: testChat, EntityID: "beast", DisplayName: "Beast", Rarity: "Rare", MessageID: 3, SpawnedAt: spawned}
	other := DropRecord{ChatID: testChat + 1, EntityID: "beast", DisplayName: "Beast", Rarity: "Rare", MessageID: 4, SpawnedAt: spawned}
	require.NoError(t, f.store.Save(t.Context(), orphan))
	require.NoError(t, f.store.Save(t.Context(), other))

	_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	require.NoError(t, f.eng.ClearDrop(t.Context(), testChat))

	persisted, err := f.store.LoadAll(t.Context())
	require.NoError(t, err)
	require.Empty(t, persisted[testChat])
	require.Equal(t, []DropRecord{other}, persisted[testChat+1])

	require.ErrorIs(t, f.eng.ClearDrop(t.Context(), 0), ErrInvalidChat)
}
