package spawn

import (
	"context"
	"fmt"
	"time"
)

// ActiveDrop returns the live drop of chatID.
//
// Returns:
//   - DropRecord: Live drop
//   - bool: false if the chat has no live drop
func (e *Engine) ActiveDrop(chatID int64) (DropRecord, bool) {
	c, ok := e.chats.Peek(chatID)
	if !ok {
		return DropRecord{}, false
	}

	return c.ActiveDrop()
}

// Threshold returns the spawn threshold in effect for chatID.
func (e *Engine) Threshold(chatID int64) int {
	return e.chats.Threshold(chatID, e.cfg.Threshold.Default)
}

// SetThreshold overrides the spawn threshold of chatID.
//
// The new value applies to the next counted message. With a threshold store
// configured the override is persisted; a failed write still leaves the
// override in effect for this process.
//
// Parameters:
//   - ctx: Context for the store write
//   - chatID: Target chat
//   - n: Messages per spawn, within [Threshold.Min, Threshold.Max]
//
// Returns:
//   - error: ErrInvalidChat, ErrInvalidThreshold or ErrPersistenceFailed
func (e *Engine) SetThreshold(ctx context.Context, chatID int64, n int) error {
	if chatID == 0 {
		return ErrInvalidChat
	}
	if n < e.cfg.Threshold.Min || n > e.cfg.Threshold.Max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidThreshold, n, e.cfg.Threshold.Min, e.cfg.Threshold.Max)
	}

	e.chats.SetThreshold(chatID, n)
	e.logger.Info("threshold updated", "chat_id", chatID, "threshold", n)

	if e.thresholds == nil {
		return nil
	}

	started := time.Now()
	err := e.thresholds.SaveThreshold(ctx, chatID, n)
	e.metrics.RecordStoreOperation("save_threshold", time.Since(started).Seconds(), err == nil)
	if err != nil {
		return fmt.Errorf("%w: save threshold: %w", ErrPersistenceFailed, err)
	}

	return nil
}

// ClearDrop removes the live drop of chatID without granting it and purges
// every stored record of the chat, including orphans left by failed deletes.
//
// A failed purge falls back to deleting the live drop's record on the next
// flush.
//
// Returns:
//   - error: ErrNotStarted, ErrInvalidChat, or ErrPersistenceFailed when the purge failed
func (e *Engine) ClearDrop(ctx context.Context, chatID int64) error {
	if !e.running() {
		return ErrNotStarted
	}
	if chatID == 0 {
		return ErrInvalidChat
	}

	c := e.chats.Acquire(chatID)
	defer e.chats.Release(c)

	unlockSpawn := c.LockSpawn()
	defer unlockSpawn()
	unlockPersist := c.LockPersist()
	defer unlockPersist()

	drop, cleared := c.Clear()

	started := time.Now()
	err := e.deps.Store.Clear(ctx, chatID)
	e.metrics.RecordStoreOperation("clear", time.Since(started).Seconds(), err == nil)
	if err != nil {
		if cleared {
			e.tombstones.Store(tombstone{chatID: chatID, entityID: drop.EntityID}, struct{}{})
		}
		e.logger.Warn("failed to clear persisted drops, will retry on next flush",
			"chat_id", chatID, "error", err)

		return fmt.Errorf("%w: clear drops: %w", ErrPersistenceFailed, err)
	}

	e.tombstones.Range(func(key tombstone, _ struct{}) bool {
		if key.chatID == chatID {
			e.tombstones.Delete(key)
		}
		return true
	})

	if cleared {
		e.logger.Info("drop cleared", "chat_id", chatID, "entity_id", drop.EntityID, "handle", drop.MessageID)
	}

	return nil
}

// InvalidateCatalog drops cached settings and pools and discards prefetched
// picks. Call it after admin changes to weights, caps, locks or the pool.
func (e *Engine) InvalidateCatalog() {
	e.cache.Invalidate()
	e.prefetch.Purge()
	e.logger.Info("catalog cache invalidated")
}

// Stats is a point-in-time view of engine load.
type Stats struct {
	Chats          int
	BusyClaimants  int
	QueueDepth     int
	Overloaded     bool
	PendingDeletes int
}

// Stats returns current load figures.
func (e *Engine) Stats() Stats {
	return Stats{
		Chats:          e.chats.Len(),
		BusyClaimants:  e.chats.BusyClaimants(),
		QueueDepth:     e.governor.Depth(),
		Overloaded:     e.governor.Hot(),
		PendingDeletes: e.tombstones.Size(),
	}
}
