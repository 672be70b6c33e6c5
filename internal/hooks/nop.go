// Package hooks provides default engine hook implementations.
package hooks

import (
	"context"

	"github.com/arloliu/spawn/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

var (
	_ func(context.Context, types.DropRecord) error                   = (*NopHooks)(nil).OnSpawned
	_ func(context.Context, types.DropRecord, types.DropRecord) error = (*NopHooks)(nil).OnSuperseded
	_ func(context.Context, types.DropRecord, int64) error            = (*NopHooks)(nil).OnClaimed
	_ func(context.Context, error) error                              = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
func NewNop() types.Hooks {
	h := &NopHooks{}

	return types.Hooks{
		OnSpawned:    h.OnSpawned,
		OnSuperseded: h.OnSuperseded,
		OnClaimed:    h.OnClaimed,
		OnError:      h.OnError,
	}
}

// Merge returns custom with every nil callback replaced by a no-op.
//
// Parameters:
//   - custom: User-provided hooks (may be nil)
//
// Returns:
//   - types.Hooks: Hooks whose callbacks are all non-nil
func Merge(custom *types.Hooks) types.Hooks {
	out := NewNop()
	if custom == nil {
		return out
	}
	if custom.OnSpawned != nil {
		out.OnSpawned = custom.OnSpawned
	}
	if custom.OnSuperseded != nil {
		out.OnSuperseded = custom.OnSuperseded
	}
	if custom.OnClaimed != nil {
		out.OnClaimed = custom.OnClaimed
	}
	if custom.OnError != nil {
		out.OnError = custom.OnError
	}

	return out
}

// OnSpawned is a no-op implementation.
func (h *NopHooks) OnSpawned(_ context.Context, _ types.DropRecord) error {
	return nil
}

// OnSuperseded is a no-op implementation.
func (h *NopHooks) OnSuperseded(_ context.Context, _, _ types.DropRecord) error {
	return nil
}

// OnClaimed is a no-op implementation.
func (h *NopHooks) OnClaimed(_ context.Context, _ types.DropRecord, _ int64) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
