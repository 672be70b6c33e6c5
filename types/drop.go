package types

import (
	"errors"
	"time"
)

// Rarity is a category governing selection weight and optional daily quota.
type Rarity string

// Entity is a collectible candidate that can be spawned into a chat.
type Entity struct {
	// ID uniquely identifies the entity in the catalog.
	ID string `json:"id" yaml:"id"`

	// Name is the display name claimants must guess.
	Name string `json:"name" yaml:"name"`

	// Rarity selects the weight and daily cap bucket.
	Rarity Rarity `json:"rarity" yaml:"rarity"`

	// MediaRef points at the image or clip published with the spawn.
	MediaRef string `json:"media_ref" yaml:"mediaRef"`
}

// DropRecord is an unclaimed spawn in a specific chat.
//
// At most one DropRecord per chat is live at any time. The Announcer creates
// it; the claim path or an admin clear destroys it. The durable copy mirrors
// the in-memory copy until it is destroyed.
type DropRecord struct {
	ChatID      int64     `json:"chat_id"`
	EntityID    string    `json:"entity_id"`
	DisplayName string    `json:"display_name"`
	Rarity      Rarity    `json:"rarity"`
	MessageID   int64     `json:"message_id"`
	SpawnedAt   time.Time `json:"spawned_at"`
	MediaRef    string    `json:"media_ref,omitempty"`
}

// Errors reported by DropRecord.Validate.
var (
	ErrDropMissingChat      = errors.New("drop record: missing chat_id")
	ErrDropMissingEntity    = errors.New("drop record: missing entity_id")
	ErrDropMissingName      = errors.New("drop record: missing display_name")
	ErrDropMissingMessage   = errors.New("drop record: missing message_id")
	ErrDropMissingSpawnTime = errors.New("drop record: missing spawned_at")
)

// NewDropRecord builds a DropRecord for an entity published as messageID.
//
// Parameters:
//   - chatID: Chat the entity was spawned into
//   - entity: Spawned entity
//   - messageID: Handle returned by the transport for the announcement
//   - now: Spawn timestamp
//
// Returns:
//   - DropRecord: Fully populated record
func NewDropRecord(chatID int64, entity Entity, messageID int64, now time.Time) DropRecord {
	return DropRecord{
		ChatID:      chatID,
		EntityID:    entity.ID,
		DisplayName: entity.Name,
		Rarity:      entity.Rarity,
		MessageID:   messageID,
		SpawnedAt:   now.UTC(),
		MediaRef:    entity.MediaRef,
	}
}

// Validate reports whether all required fields are present.
//
// Records failing validation are discarded during reload instead of failing startup.
//
// Returns:
//   - error: First missing field, nil if the record is usable
func (d DropRecord) Validate() error {
	switch {
	case d.ChatID == 0:
		return ErrDropMissingChat
	case d.EntityID == "":
		return ErrDropMissingEntity
	case d.DisplayName == "":
		return ErrDropMissingName
	case d.MessageID == 0:
		return ErrDropMissingMessage
	case d.SpawnedAt.IsZero():
		return ErrDropMissingSpawnTime
	}

	return nil
}

// Entity returns the entity this drop was spawned from.
func (d DropRecord) Entity() Entity {
	return Entity{ID: d.EntityID, Name: d.DisplayName, Rarity: d.Rarity, MediaRef: d.MediaRef}
}

// Exclusions narrows the eligible pool returned by a PoolSource.
type Exclusions struct {
	// Rarities are excluded entirely (locked or at their daily cap).
	Rarities []Rarity

	// EntityIDs are excluded individually.
	EntityIDs []string
}

// ExcludesRarity reports whether r is excluded.
func (x Exclusions) ExcludesRarity(r Rarity) bool {
	for _, ex := range x.Rarities {
		if ex == r {
			return true
		}
	}

	return false
}

// ExcludesEntity reports whether id is excluded.
func (x Exclusions) ExcludesEntity(id string) bool {
	for _, ex := range x.EntityIDs {
		if ex == id {
			return true
		}
	}

	return false
}

// LastClaim remembers who claimed the most recent drop in a chat.
//
// It is used to answer stale attempts informatively instead of silently.
type LastClaim struct {
	MessageID   int64     `json:"message_id"`
	EntityID    string    `json:"entity_id"`
	DisplayName string    `json:"display_name"`
	ClaimantID  int64     `json:"claimant_id"`
	ClaimedAt   time.Time `json:"claimed_at"`
}
