package spawn

import "github.com/arloliu/spawn/types"

// Sentinel errors returned by the Engine. See the types package for details.
var (
	ErrInvalidConfig     = types.ErrInvalidConfig
	ErrMissingDependency = types.ErrMissingDependency
	ErrAlreadyStarted    = types.ErrAlreadyStarted
	ErrNotStarted        = types.ErrNotStarted
	ErrInvalidThreshold  = types.ErrInvalidThreshold
	ErrInvalidChat       = types.ErrInvalidChat

	ErrAttributionFailed = types.ErrAttributionFailed
	ErrTransportFailed   = types.ErrTransportFailed
	ErrPersistenceFailed = types.ErrPersistenceFailed
	ErrPoolExhausted     = types.ErrPoolExhausted
	ErrEntityNotFound    = types.ErrEntityNotFound

	ErrQueueFull       = types.ErrQueueFull
	ErrGovernorStopped = types.ErrGovernorStopped
)
