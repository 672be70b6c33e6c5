package types

import "context"

// Hooks defines callbacks for engine events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never extend a per-chat critical section. Hooks receive the engine's
// lifecycle context which will be cancelled during shutdown.
//
// IMPORTANT: Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Hook errors are logged but never fail or roll back engine operations
//
// Example:
//
//	hooks := &spawn.Hooks{
//	    OnClaimed: func(ctx context.Context, drop spawn.DropRecord, claimantID int64) error {
//	        return audit.Record(ctx, drop.EntityID, claimantID)
//	    },
//	}
type Hooks struct {
	// OnSpawned is called after a drop was announced and installed.
	OnSpawned func(ctx context.Context, drop DropRecord) error

	// OnSuperseded is called when an unclaimed drop was abandoned for a new one.
	OnSuperseded func(ctx context.Context, old, replacement DropRecord) error

	// OnClaimed is called after a drop was attributed to its winner.
	OnClaimed func(ctx context.Context, drop DropRecord, claimantID int64) error

	// OnError is called when a recoverable background error occurs.
	OnError func(ctx context.Context, err error) error
}
