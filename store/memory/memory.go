// Package memory provides an in-process durability store.
package memory

import (
	"context"
	"sync"

	"github.com/arloliu/spawn/types"
)

type dropKey struct {
	chatID   int64
	entityID string
}

// Store keeps drops and thresholds in maps.
//
// Malformed records are rejected on Save rather than filtered on LoadAll,
// since nothing else writes to the maps.
type Store struct {
	mu         sync.RWMutex
	drops      map[dropKey]types.DropRecord
	thresholds map[int64]int
}

var (
	_ types.DropStore      = (*Store)(nil)
	_ types.ThresholdStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		drops:      make(map[dropKey]types.DropRecord),
		thresholds: make(map[int64]int),
	}
}

// Save upserts drop.
func (s *Store) Save(_ context.Context, drop types.DropRecord) error {
	if err := drop.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.drops[dropKey{drop.ChatID, drop.EntityID}] = drop

	return nil
}

// Delete removes the record for (chatID, entityID).
func (s *Store) Delete(_ context.Context, chatID int64, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drops, dropKey{chatID, entityID})

	return nil
}

// LoadAll returns every record grouped by chat.
func (s *Store) LoadAll(_ context.Context) (map[int64][]types.DropRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64][]types.DropRecord)
	for k, d := range s.drops {
		out[k.chatID] = append(out[k.chatID], d)
	}

	return out, nil
}

// Clear removes every record for chatID.
func (s *Store) Clear(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.drops {
		if k.chatID == chatID {
			delete(s.drops, k)
		}
	}

	return nil
}

// SaveThreshold stores the override for chatID.
func (s *Store) SaveThreshold(_ context.Context, chatID int64, threshold int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.thresholds[chatID] = threshold

	return nil
}

// LoadThresholds returns all stored overrides.
func (s *Store) LoadThresholds(_ context.Context) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]int, len(s.thresholds))
	for k, v := range s.thresholds {
		out[k] = v
	}

	return out, nil
}

// Len returns the number of stored drops.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.drops)
}
