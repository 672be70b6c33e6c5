package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the spawn engine.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Expected claim outcomes (no active drop, already being claimed, already
// attempting, evidence mismatch) are NOT errors; see RejectReason.

// Engine errors - Public API errors returned by the Engine.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("required dependency is missing")

	// ErrAlreadyStarted is returned when Start is called on a running engine.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is returned when operations require a started engine.
	ErrNotStarted = errors.New("engine not started")

	// ErrInvalidThreshold is returned when an admin threshold is out of range.
	ErrInvalidThreshold = errors.New("threshold out of range")

	// ErrInvalidChat is returned for a zero chat ID.
	ErrInvalidChat = errors.New("invalid chat ID")
)

// Failure taxonomy - unexpected failures surfaced to callers.
var (
	// ErrAttributionFailed is returned when the storage grant call fails.
	// Guards are released and the claim may be retried.
	ErrAttributionFailed = errors.New("attribution failed")

	// ErrTransportFailed is returned when the initial announcement could not be published.
	ErrTransportFailed = errors.New("transport failed")

	// ErrPersistenceFailed is returned when the durability store rejects an operation.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrPoolExhausted is returned when no entity is eligible for selection.
	ErrPoolExhausted = errors.New("no eligible entity in pool")

	// ErrEntityNotFound is returned when a force spawn names an unknown entity.
	ErrEntityNotFound = errors.New("entity not found")
)

// Governor errors - Overload queue errors.
var (
	// ErrQueueFull is returned when the overload queue has no free slot.
	ErrQueueFull = errors.New("overload queue full")

	// ErrGovernorStopped is returned when enqueueing into a stopped governor.
	ErrGovernorStopped = errors.New("overload governor stopped")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrContextCanceled is returned when an operation is canceled by context.
	ErrContextCanceled = errors.New("operation canceled by context")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
