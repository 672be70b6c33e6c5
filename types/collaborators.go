package types

import "context"

// BanChecker reports banned or rate-limited senders.
//
// Activity and claims from banned senders are ignored.
type BanChecker interface {
	// IsBanned returns true if userID must be ignored.
	IsBanned(ctx context.Context, userID int64) (bool, error)
}

// PoolSource provides the catalog of spawnable entities.
//
// Implementations can query various backends:
//   - Relational or document catalogs
//   - Static: fixed list for testing
type PoolSource interface {
	// EligiblePool returns entities not matched by the exclusions.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - exclusions: Rarities and entities to leave out
	//
	// Returns:
	//   - []Entity: Eligible entities (may be empty)
	//   - error: Fetch error (the engine skips the spawn cycle)
	EligiblePool(ctx context.Context, exclusions Exclusions) ([]Entity, error)

	// Entity returns a single entity by ID (used by admin force spawns).
	Entity(ctx context.Context, id string) (Entity, error)
}

// SettingsSource provides rarity settings and accepts daily count increments.
type SettingsSource interface {
	// RaritySettings returns the current weighted rarity table.
	RaritySettings(ctx context.Context) (RaritySettings, error)

	// IncrementDailyCount records one more spawn of rarity r for the current UTC day.
	//
	// Best-effort: an undercount after a crash is acceptable.
	IncrementDailyCount(ctx context.Context, r Rarity) error
}

// Attributor grants entities to claimants.
type Attributor interface {
	// Attribute grants entityID to claimantID. Must be idempotent for the same
	// (claimantID, entityID, sourceTag) triple.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - claimantID: Winning user
	//   - entityID: Entity being granted
	//   - sourceTag: Audit tag distinguishing grant origins (e.g. "collected")
	//
	// Returns:
	//   - error: Non-nil when the grant did not happen; the claim may be retried
	Attribute(ctx context.Context, claimantID int64, entityID string, sourceTag string) error
}

// Transport publishes announcements to chats.
type Transport interface {
	// Publish posts media with a caption and returns the message handle.
	Publish(ctx context.Context, chatID int64, mediaRef string, caption string) (int64, error)

	// EditCaption replaces the caption of a previously published message.
	EditCaption(ctx context.Context, chatID int64, messageID int64, caption string) error

	// Pin pins a published message. Secondary notification: failures are swallowed.
	Pin(ctx context.Context, chatID int64, messageID int64) error
}

// DropStore is the durability store for live drops.
//
// Implementations must be safe for concurrent use across chats; the engine
// serializes writes for the same chat.
type DropStore interface {
	// Save upserts the record keyed by (ChatID, EntityID).
	Save(ctx context.Context, drop DropRecord) error

	// Delete removes the record for (chatID, entityID). Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, chatID int64, entityID string) error

	// LoadAll returns every stored record grouped by chat. Malformed records
	// are skipped, not reported as errors.
	LoadAll(ctx context.Context) (map[int64][]DropRecord, error)

	// Clear removes every record for chatID.
	Clear(ctx context.Context, chatID int64) error
}

// ThresholdStore persists per-chat spawn threshold overrides.
type ThresholdStore interface {
	// SaveThreshold stores the override for chatID.
	SaveThreshold(ctx context.Context, chatID int64, threshold int) error

	// LoadThresholds returns all stored overrides.
	LoadThresholds(ctx context.Context) (map[int64]int, error)
}

// Rewarder awards bonus currency after a successful claim.
//
// This is an economy concern outside the engine; its failure never rolls back a claim.
type Rewarder interface {
	Reward(ctx context.Context, claimantID int64, amount int64) error
}
