package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRaritySettings_AtCap(t *testing.T) {
	day := time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)
	s := RaritySettings{
		Weights:     map[Rarity]int64{"Common": 70, "Legendary": 5},
		DailyCaps:   map[Rarity]int{"Legendary": 2},
		DailyCounts: map[Rarity]int{"Legendary": 2},
		CountsDay:   UTCDay(day),
	}

	t.Run("capped on the same UTC day", func(t *testing.T) {
		require.True(t, s.AtCap("Legendary", day))
		require.False(t, s.AtCap("Common", day))
	})

	t.Run("counts from another day are ignored", func(t *testing.T) {
		require.False(t, s.AtCap("Legendary", day.Add(24*time.Hour)))
		require.Equal(t, 0, s.CountOn("Legendary", day.Add(24*time.Hour)))
	})

	t.Run("excluded lists capped and zero-weight rarities", func(t *testing.T) {
		s2 := s.Clone()
		s2.Weights["Event"] = 0
		s2.Locked = []Rarity{"Mythic"}

		require.Equal(t, []Rarity{"Event", "Legendary", "Mythic"}, s2.Excluded(day))
	})
}

func TestRaritySettings_CloneIsDeep(t *testing.T) {
	s := RaritySettings{
		Weights:     map[Rarity]int64{"Common": 1},
		DailyCounts: map[Rarity]int{"Common": 1},
		Locked:      []Rarity{"Rare"},
	}
	c := s.Clone()
	c.Weights["Common"] = 9
	c.DailyCounts["Common"] = 9
	c.Locked[0] = "Epic"

	require.Equal(t, int64(1), s.Weights["Common"])
	require.Equal(t, 1, s.DailyCounts["Common"])
	require.Equal(t, Rarity("Rare"), s.Locked[0])
}

func TestUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	local := time.Date(2026, 1, 2, 3, 0, 0, 0, loc) // 2026-01-01 18:00 UTC

	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), UTCDay(local))
}

func TestDropRecord_Validate(t *testing.T) {
	valid := NewDropRecord(-1001, Entity{ID: "e1", Name: "Storm", Rarity: "Rare"}, 42, time.Now())
	require.NoError(t, valid.Validate())

	missingEntity := valid
	missingEntity.EntityID = ""
	require.ErrorIs(t, missingEntity.Validate(), ErrDropMissingEntity)

	missingMessage := valid
	missingMessage.MessageID = 0
	require.ErrorIs(t, missingMessage.Validate(), ErrDropMissingMessage)

	require.Equal(t, "Storm", valid.Entity().Name)
}
