package spawn

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/spawn/internal/chatstate"
	"github.com/arloliu/spawn/types"
)

// Spawn results recorded by metrics.
const (
	spawnAnnounced       = "announced"
	spawnExhausted       = "exhausted"
	spawnTransportFailed = "transport_failed"
	spawnSelectFailed    = "select_failed"
)

// reserveAttempts bounds how often a pick is redrawn after losing its cap slot.
const reserveAttempts = 3

// ForceSpawn announces a drop in chatID immediately.
//
// The activity count is left unchanged. Permission checks are the caller's
// concern.
//
// Parameters:
//   - ctx: Context for the selection and announcement
//   - chatID: Target chat
//   - entityID: Entity to spawn; empty selects one by weight
//
// Returns:
//   - DropRecord: The new live drop
//   - error: ErrNotStarted, ErrInvalidChat, ErrEntityNotFound, ErrPoolExhausted or ErrTransportFailed
func (e *Engine) ForceSpawn(ctx context.Context, chatID int64, entityID string) (DropRecord, error) {
	if !e.running() {
		return DropRecord{}, ErrNotStarted
	}
	if chatID == 0 {
		return DropRecord{}, ErrInvalidChat
	}

	c := e.chats.Acquire(chatID)
	defer e.chats.Release(c)

	unlock := c.LockSpawn()
	defer unlock()

	return e.spawnLocked(ctx, c, entityID)
}

// spawnLocked selects an entity and announces it. Callers hold c's spawn lock.
//
// The drop is installed only after the transport accepted the announcement,
// replacing and abandoning any unclaimed drop, and it is saved before the
// function returns. A failed save is logged and left to the next flush.
func (e *Engine) spawnLocked(ctx context.Context, c *chatstate.Chat, entityID string) (DropRecord, error) {
	entity, reserved, err := e.pick(ctx, c.ID(), entityID)
	if err != nil {
		return DropRecord{}, err
	}

	msgID, err := e.deps.Transport.Publish(ctx, c.ID(), entity.MediaRef, e.captioner.Announce(entity))
	if err != nil {
		if reserved {
			e.selector.Release(entity)
		}
		e.metrics.RecordSpawn(entity.Rarity, spawnTransportFailed)
		e.logger.Warn("failed to announce drop, nothing installed",
			"chat_id", c.ID(), "entity_id", entity.ID, "error", err)
		err = fmt.Errorf("%w: announce in chat %d: %w", ErrTransportFailed, c.ID(), err)
		e.reportError(err)

		return DropRecord{}, err
	}

	drop := types.NewDropRecord(c.ID(), entity, msgID, e.clock())
	prev, superseded := c.Install(drop)

	e.persistSpawn(ctx, c, drop, prev, superseded)

	if superseded {
		e.metrics.RecordSupersession()
		e.logger.Info("unclaimed drop superseded",
			"chat_id", c.ID(), "entity_id", prev.EntityID, "handle", prev.MessageID,
			"replacement_entity_id", drop.EntityID, "replacement_handle", drop.MessageID)
		e.runHook("on-superseded", func(ctx context.Context) error {
			return e.hooks.OnSuperseded(ctx, prev, drop)
		})
	}

	if e.cfg.PinDrops {
		if err := e.deps.Transport.Pin(ctx, c.ID(), msgID); err != nil {
			e.logger.Warn("failed to pin drop", "chat_id", c.ID(), "handle", msgID, "error", err)
		}
	}

	_ = e.launch("increment-daily-count", func(ctx context.Context) error {
		ctx, cancel := e.opContext(ctx)
		defer cancel()

		return e.selector.IncrementSource(ctx, entity)
	})
	e.prefetch.Refill(c.ID())

	e.metrics.RecordSpawn(entity.Rarity, spawnAnnounced)
	e.logger.Debug("drop announced", "chat_id", c.ID(), "entity_id", drop.EntityID, "handle", drop.MessageID)
	e.runHook("on-spawned", func(ctx context.Context) error {
		return e.hooks.OnSpawned(ctx, drop)
	})

	return drop, nil
}

// pick returns the entity to announce with its daily-cap slot reserved.
//
// An explicit entityID bypasses weights and caps; its slot is taken only if
// one is free. Otherwise a prefetched pick is preferred and synchronous
// selection is the fallback. A pick whose rarity filled up in the meantime
// is redrawn.
//
// Returns:
//   - Entity: Entity to announce
//   - bool: true if a cap slot was reserved and must be released on failure
//   - error: ErrPoolExhausted, ErrEntityNotFound or a source error
func (e *Engine) pick(ctx context.Context, chatID int64, entityID string) (Entity, bool, error) {
	if entityID != "" {
		entity, err := e.selector.Resolve(ctx, entityID)
		if err != nil {
			return Entity{}, false, err
		}

		return entity, e.selector.Reserve(entity), nil
	}

	if entity, ok := e.prefetch.TryTake(ctx, chatID, e.selector.Valid); ok && e.selector.Reserve(entity) {
		return entity, true, nil
	}

	for range reserveAttempts {
		entity, err := e.selector.Select(ctx)
		if err != nil {
			if errors.Is(err, ErrPoolExhausted) {
				e.metrics.RecordSpawn("", spawnExhausted)
				e.logger.Debug("no eligible entity, skipping spawn", "chat_id", chatID)
			} else {
				e.metrics.RecordSpawn("", spawnSelectFailed)
				e.logger.Warn("entity selection failed", "chat_id", chatID, "error", err)
			}

			return Entity{}, false, err
		}
		if e.selector.Reserve(entity) {
			return entity, true, nil
		}
	}

	e.metrics.RecordSpawn("", spawnExhausted)

	return Entity{}, false, ErrPoolExhausted
}

// prefetchFill selects an entity for the prefetch buffer of a chat.
func (e *Engine) prefetchFill(ctx context.Context, _ int64) (Entity, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	return e.selector.Select(ctx)
}

// persistSpawn removes the superseded record and saves the new one.
func (e *Engine) persistSpawn(ctx context.Context, c *chatstate.Chat, drop, prev DropRecord, superseded bool) {
	unlock := c.LockPersist()
	defer unlock()

	if superseded && prev.EntityID != drop.EntityID {
		if err := e.storeDelete(ctx, c.ID(), prev.EntityID); err != nil {
			e.tombstones.Store(tombstone{chatID: c.ID(), entityID: prev.EntityID}, struct{}{})
			e.logger.Warn("failed to delete superseded drop, will retry on next flush",
				"chat_id", c.ID(), "entity_id", prev.EntityID, "error", err)
		}
	}

	if !c.IsActive(drop) {
		// Claimed or cleared before it could be saved.
		return
	}

	if err := e.storeSave(ctx, drop); err != nil {
		e.logger.Error("failed to persist drop, will retry on next flush",
			"chat_id", c.ID(), "entity_id", drop.EntityID, "handle", drop.MessageID, "error", err)
		e.reportError(fmt.Errorf("%w: save drop: %w", ErrPersistenceFailed, err))

		return
	}
	e.tombstones.Delete(tombstone{chatID: c.ID(), entityID: drop.EntityID})
}
