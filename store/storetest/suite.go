// Package storetest verifies durability store implementations against the
// behavior the engine relies on.
package storetest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/types"
)

// Store is the combination under test.
type Store interface {
	types.DropStore
	types.ThresholdStore
}

// Options customizes the suite.
type Options struct {
	// InjectMalformed writes a record for chatID into s that lacks an
	// entity ID, bypassing Save validation. Nil skips the malformed-record case.
	InjectMalformed func(t *testing.T, s Store, chatID int64)
}

// Drop builds a valid record for tests.
func Drop(chatID int64, entityID string, messageID int64) types.DropRecord {
	return types.DropRecord{
		ChatID:      chatID,
		EntityID:    entityID,
		DisplayName: "Jean Grey",
		Rarity:      "Legendary",
		MessageID:   messageID,
		SpawnedAt:   time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC),
		MediaRef:    "media/" + entityID + ".png",
	}
}

// Run executes the suite. newStore must return an empty store each call.
func Run(t *testing.T, newStore func(t *testing.T) Store, opts Options) {
	t.Helper()

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		d := Drop(-1001, "jean-grey", 42)

		require.NoError(t, s.Save(ctx, d))

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all[d.ChatID], 1)

		got := all[d.ChatID][0]
		require.True(t, d.SpawnedAt.Equal(got.SpawnedAt))
		got.SpawnedAt = d.SpawnedAt
		require.Equal(t, d, got)
	})

	t.Run("SaveIsUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		d := Drop(5, "storm", 1)
		require.NoError(t, s.Save(ctx, d))
		d.MessageID = 2
		require.NoError(t, s.Save(ctx, d))

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all[5], 1)
		require.EqualValues(t, 2, all[5][0].MessageID)
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		require.NoError(t, s.Save(ctx, Drop(1, "a", 10)))
		require.NoError(t, s.Save(ctx, Drop(1, "b", 11)))
		require.NoError(t, s.Save(ctx, Drop(2, "a", 12)))

		require.NoError(t, s.Delete(ctx, 1, "a"))
		require.NoError(t, s.Delete(ctx, 1, "missing"), "deleting a missing record is not an error")

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all[1], 1)
		require.Equal(t, "b", all[1][0].EntityID)

		require.NoError(t, s.Clear(ctx, 1))
		require.NoError(t, s.Clear(ctx, 99))

		all, err = s.LoadAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all[1])
		require.Len(t, all[2], 1)
	})

	t.Run("EntityIDsWithSeparators", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		d := Drop(3, "x-men/jean grey.v2", 7)

		require.NoError(t, s.Save(ctx, d))
		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all[3], 1)
		require.Equal(t, d.EntityID, all[3][0].EntityID)

		require.NoError(t, s.Delete(ctx, 3, d.EntityID))
		all, err = s.LoadAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all[3])
	})

	t.Run("ConcurrentChats", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		var wg sync.WaitGroup
		for chat := range int64(20) {
			wg.Go(func() {
				_ = s.Save(ctx, Drop(chat+1, "e", chat+100))
			})
		}
		wg.Wait()

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 20)
	})

	t.Run("Thresholds", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		got, err := s.LoadThresholds(ctx)
		require.NoError(t, err)
		require.Empty(t, got)

		require.NoError(t, s.SaveThreshold(ctx, 1, 5))
		require.NoError(t, s.SaveThreshold(ctx, -200, 50))
		require.NoError(t, s.SaveThreshold(ctx, 1, 7))

		got, err = s.LoadThresholds(ctx)
		require.NoError(t, err)
		require.Equal(t, map[int64]int{1: 7, -200: 50}, got)
	})

	if opts.InjectMalformed != nil {
		t.Run("MalformedRecordsAreSkipped", func(t *testing.T) {
			s := newStore(t)
			ctx := t.Context()

			require.NoError(t, s.Save(ctx, Drop(8, "ok", 1)))
			opts.InjectMalformed(t, s, 9)

			all, err := s.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, all[8], 1)
			require.Empty(t, all[9])
		})
	}
}
