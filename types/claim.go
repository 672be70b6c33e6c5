package types

import "time"

// RejectReason classifies an expected claim rejection.
//
// Rejections are outcomes, not errors: they drive a reply to the claimant and
// are never logged above debug level.
type RejectReason int

const (
	// RejectNone means the claim was accepted.
	RejectNone RejectReason = iota

	// RejectNoActiveDrop means the chat has no live drop, or the attempt
	// targeted a message that is no longer the live drop.
	RejectNoActiveDrop

	// RejectAlreadyBeingClaimed means another attempt holds the drop's guard.
	RejectAlreadyBeingClaimed

	// RejectAlreadyAttempting means the claimant has an attempt in flight.
	RejectAlreadyAttempting

	// RejectEvidenceMismatch means the guess did not match the drop.
	RejectEvidenceMismatch
)

// String returns the string representation of the reason.
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectNoActiveDrop:
		return "no_active_drop"
	case RejectAlreadyBeingClaimed:
		return "already_being_claimed"
	case RejectAlreadyAttempting:
		return "already_attempting"
	case RejectEvidenceMismatch:
		return "evidence_mismatch"
	default:
		return "unknown"
	}
}

// ClaimAttempt is an ephemeral claim request. It is never persisted.
type ClaimAttempt struct {
	ChatID     int64
	ClaimantID int64
	Evidence   string

	// ReplyTo is the message the attempt replied to (0 when not a reply).
	ReplyTo int64

	Timestamp time.Time
}

// ClaimResult is the outcome of a claim attempt.
type ClaimResult struct {
	// Accepted is true when the claimant won the drop.
	Accepted bool

	// Reason explains a rejection (RejectNone when accepted).
	Reason RejectReason

	// Drop is the claimed drop on acceptance, or the still-live drop the
	// claimant should aim at on EvidenceMismatch / AlreadyBeingClaimed.
	Drop *DropRecord

	// LastClaim answers stale attempts with who won the previous drop.
	LastClaim *LastClaim

	// Silent marks rejections that must not produce a reply.
	Silent bool
}

// ChatMessage is a single inbound chat event handed to the engine by the transport adapter.
type ChatMessage struct {
	ChatID   int64 `json:"chat_id"`
	SenderID int64 `json:"sender_id"`

	// Group is false for private conversations, which never count as activity.
	Group bool `json:"group"`

	// ReplyTo is the message this message replied to (0 when not a reply).
	ReplyTo int64 `json:"reply_to,omitempty"`

	// Evidence is the claimant's guess, extracted by the adapter from a claim
	// command. Empty for plain chatter.
	Evidence string `json:"evidence,omitempty"`

	SentAt time.Time `json:"sent_at"`
}

// IsClaimAttempt reports whether the message carries a claim guess.
func (m ChatMessage) IsClaimAttempt() bool {
	return m.Evidence != ""
}

// MessageOutcome reports what the engine did with a chat message.
type MessageOutcome struct {
	// Counted is true when the message counted as qualifying activity.
	Counted bool

	// Queued is true when the activity was deferred to the overload queue.
	Queued bool

	// Spawned is set when the message triggered a new drop.
	Spawned *DropRecord

	// Claim is set when the message was a claim attempt.
	Claim *ClaimResult
}
