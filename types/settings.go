package types

import (
	"maps"
	"slices"
	"time"
)

// RaritySettings is the weighted rarity table consulted by the selector.
//
// Read-mostly and TTL-cached by the engine; writers are external admin actions.
type RaritySettings struct {
	// Weights maps each rarity to its relative selection weight. Rarities with
	// weight <= 0 are never selected.
	Weights map[Rarity]int64 `json:"weights" yaml:"weights"`

	// DailyCaps limits spawns per rarity per UTC day. A missing entry or a
	// value <= 0 means uncapped.
	DailyCaps map[Rarity]int `json:"daily_caps" yaml:"dailyCaps"`

	// DailyCounts holds spawns so far on CountsDay.
	DailyCounts map[Rarity]int `json:"daily_counts" yaml:"dailyCounts"`

	// CountsDay is the UTC day DailyCounts refers to. Counts from any other day
	// are treated as zero.
	CountsDay time.Time `json:"counts_day" yaml:"countsDay"`

	// Locked rarities are excluded from selection.
	Locked []Rarity `json:"locked" yaml:"locked"`
}

// UTCDay truncates t to midnight UTC.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsLocked reports whether r is locked.
func (s RaritySettings) IsLocked(r Rarity) bool {
	return slices.Contains(s.Locked, r)
}

// CountOn returns the daily count for r, or zero if the counts belong to another day.
//
// Parameters:
//   - r: Rarity to look up
//   - day: UTC day being evaluated
//
// Returns:
//   - int: Spawns of r recorded on day
func (s RaritySettings) CountOn(r Rarity, day time.Time) int {
	if !UTCDay(s.CountsDay).Equal(UTCDay(day)) {
		return 0
	}

	return s.DailyCounts[r]
}

// AtCap reports whether r reached its daily cap on day.
func (s RaritySettings) AtCap(r Rarity, day time.Time) bool {
	limit, ok := s.DailyCaps[r]
	if !ok || limit <= 0 {
		return false
	}

	return s.CountOn(r, day) >= limit
}

// Clone returns a deep copy safe to mutate.
func (s RaritySettings) Clone() RaritySettings {
	out := RaritySettings{
		Weights:     maps.Clone(s.Weights),
		DailyCaps:   maps.Clone(s.DailyCaps),
		DailyCounts: maps.Clone(s.DailyCounts),
		CountsDay:   s.CountsDay,
		Locked:      slices.Clone(s.Locked),
	}
	if out.DailyCounts == nil {
		out.DailyCounts = make(map[Rarity]int)
	}

	return out
}

// Excluded returns the rarities that cannot be selected on day, sorted.
func (s RaritySettings) Excluded(day time.Time) []Rarity {
	seen := make(map[Rarity]struct{})
	for _, r := range s.Locked {
		seen[r] = struct{}{}
	}
	for r := range s.DailyCaps {
		if s.AtCap(r, day) {
			seen[r] = struct{}{}
		}
	}
	for r, w := range s.Weights {
		if w <= 0 {
			seen[r] = struct{}{}
		}
	}

	out := make([]Rarity, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	slices.Sort(out)

	return out
}
