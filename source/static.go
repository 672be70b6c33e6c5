package source

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/spawn/types"
)

// Catalog is the YAML document accepted by LoadCatalogFile.
type Catalog struct {
	Entities []types.Entity       `yaml:"entities"`
	Settings types.RaritySettings `yaml:"settings"`
	Banned   []int64              `yaml:"banned"`
}

// Static implements a catalog source held in memory.
//
// Daily counters roll over at UTC midnight: the first increment on a new day
// starts from zero.
type Static struct {
	mu       sync.RWMutex
	entities []types.Entity
	settings types.RaritySettings
	banned   map[int64]struct{}
	clock    func() time.Time
}

var (
	_ types.PoolSource     = (*Static)(nil)
	_ types.SettingsSource = (*Static)(nil)
	_ types.BanChecker     = (*Static)(nil)
)

// NewStatic creates a new static catalog source.
//
// Useful for testing and for small deployments whose catalog is known at startup.
//
// Parameters:
//   - entities: Spawnable entities
//   - settings: Rarity weights, caps and locks
//
// Returns:
//   - *Static: Initialized static source
//
// Example:
//
//	src := source.NewStatic([]types.Entity{
//	    {ID: "storm", Name: "Storm", Rarity: "Common"},
//	    {ID: "jean-grey", Name: "Jean Grey", Rarity: "Legendary"},
//	}, types.RaritySettings{
//	    Weights:   map[types.Rarity]int64{"Common": 95, "Legendary": 5},
//	    DailyCaps: map[types.Rarity]int{"Legendary": 2},
//	})
//	eng, err := spawn.NewEngine(cfg, spawn.Dependencies{Pool: src, Settings: src, Bans: src, ...})
func NewStatic(entities []types.Entity, settings types.RaritySettings) *Static {
	return &Static{
		entities: slices.Clone(entities),
		settings: settings.Clone(),
		banned:   make(map[int64]struct{}),
		clock:    time.Now,
	}
}

// LoadCatalogFile reads a YAML catalog into a Static source.
//
// Parameters:
//   - path: File path of the catalog
//
// Returns:
//   - *Static: Source populated from the file
//   - error: Read or parse error
func LoadCatalogFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	for i, e := range c.Entities {
		if e.ID == "" || e.Name == "" || e.Rarity == "" {
			return nil, fmt.Errorf("catalog entity %d: id, name and rarity are required", i)
		}
	}

	s := NewStatic(c.Entities, c.Settings)
	for _, id := range c.Banned {
		s.Ban(id)
	}

	return s, nil
}

// SetClock replaces the clock used for daily rollover. Intended for tests.
func (s *Static) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = clock
}

// EligiblePool returns entities not matched by exclusions.
func (s *Static) EligiblePool(_ context.Context, exclusions types.Exclusions) ([]types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if exclusions.ExcludesRarity(e.Rarity) || exclusions.ExcludesEntity(e.ID) {
			continue
		}
		result = append(result, e)
	}

	return result, nil
}

// Entity returns the entity with id.
func (s *Static) Entity(_ context.Context, id string) (types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.ID == id {
			return e, nil
		}
	}

	return types.Entity{}, types.ErrEntityNotFound
}

// RaritySettings returns a copy of the settings with counts for the current UTC day.
func (s *Static) RaritySettings(_ context.Context) (types.RaritySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.settings.Clone()
	today := types.UTCDay(s.clock())
	if !types.UTCDay(out.CountsDay).Equal(today) {
		out.DailyCounts = make(map[types.Rarity]int)
		out.CountsDay = today
	}

	return out, nil
}

// IncrementDailyCount records one more spawn of r today.
func (s *Static) IncrementDailyCount(_ context.Context, r types.Rarity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := types.UTCDay(s.clock())
	if !types.UTCDay(s.settings.CountsDay).Equal(today) || s.settings.DailyCounts == nil {
		s.settings.DailyCounts = make(map[types.Rarity]int)
		s.settings.CountsDay = today
	}
	s.settings.DailyCounts[r]++

	return nil
}

// IsBanned reports whether userID is banned.
func (s *Static) IsBanned(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.banned[userID]

	return ok, nil
}

// Ban adds userID to the ban list.
func (s *Static) Ban(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.banned[userID] = struct{}{}
}

// Unban removes userID from the ban list.
func (s *Static) Unban(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.banned, userID)
}

// Update replaces the entity list.
//
// This allows the static source to simulate catalog edits. Callers holding a
// cached pool must invalidate it (Engine.InvalidateCatalog).
//
// Parameters:
//   - entities: New entity list
func (s *Static) Update(entities []types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = slices.Clone(entities)
}

// UpdateSettings replaces weights, caps and locks, keeping today's counts.
func (s *Static) UpdateSettings(settings types.RaritySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := settings.Clone()
	next.DailyCounts = s.settings.DailyCounts
	next.CountsDay = s.settings.CountsDay
	s.settings = next
}
