package spawn

import "github.com/arloliu/spawn/types"

// Re-export types from the types package.
//
// Internal packages depend on types rather than on the root package, which
// avoids import cycles while callers still write spawn.DropRecord,
// spawn.Logger and so on.
type (
	State          = types.State
	Rarity         = types.Rarity
	Entity         = types.Entity
	DropRecord     = types.DropRecord
	LastClaim      = types.LastClaim
	Exclusions     = types.Exclusions
	RaritySettings = types.RaritySettings
	ChatMessage    = types.ChatMessage
	MessageOutcome = types.MessageOutcome
	ClaimResult    = types.ClaimResult
	RejectReason   = types.RejectReason
)

// Re-export collaborator and ambient interfaces.
type (
	PoolSource       = types.PoolSource
	SettingsSource   = types.SettingsSource
	BanChecker       = types.BanChecker
	Attributor       = types.Attributor
	Transport        = types.Transport
	DropStore        = types.DropStore
	ThresholdStore   = types.ThresholdStore
	Rewarder         = types.Rewarder
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export State constants.
const (
	StateInit      = types.StateInit
	StateRestoring = types.StateRestoring
	StateRunning   = types.StateRunning
	StateStopping  = types.StateStopping
	StateStopped   = types.StateStopped
)

// Re-export RejectReason constants.
const (
	RejectNone                = types.RejectNone
	RejectNoActiveDrop        = types.RejectNoActiveDrop
	RejectAlreadyBeingClaimed = types.RejectAlreadyBeingClaimed
	RejectAlreadyAttempting   = types.RejectAlreadyAttempting
	RejectEvidenceMismatch    = types.RejectEvidenceMismatch
)
