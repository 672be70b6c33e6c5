package spawn

import (
	"context"
	"errors"
)

// Activity results recorded by metrics.
const (
	activityCounted   = "counted"
	activityTriggered = "triggered"
	activityBanned    = "banned"
	activityNotGroup  = "not_group"
	activitySpam      = "spam"
	activityQueued    = "queued"
	activityOverflow  = "overflow"
)

// OnChatMessage is the single entry point for chat traffic.
//
// A message carrying evidence is first resolved as a claim attempt. Group
// messages from users that are not banned then count towards the chat's
// spawn threshold; the message that reaches the threshold spawns a drop
// before this call returns. While the overload governor is hot, counting is
// deferred to its queue and the outcome reports Queued.
//
// Parameters:
//   - ctx: Context for collaborator calls made on this path
//   - msg: Incoming chat message
//
// Returns:
//   - MessageOutcome: What happened to the message
//   - error: ErrNotStarted, ErrInvalidChat, or a failure the caller should
//     report generically (attribution, transport)
func (e *Engine) OnChatMessage(ctx context.Context, msg ChatMessage) (MessageOutcome, error) {
	if !e.running() {
		return MessageOutcome{}, ErrNotStarted
	}
	if msg.ChatID == 0 {
		return MessageOutcome{}, ErrInvalidChat
	}

	if e.isBanned(ctx, msg.SenderID) {
		e.metrics.RecordActivity(activityBanned)
		return MessageOutcome{}, nil
	}

	var outcome MessageOutcome
	if msg.IsClaimAttempt() {
		res, err := e.AttemptClaim(ctx, msg.ChatID, msg.SenderID, msg.Evidence, msg.ReplyTo)
		if err != nil {
			return MessageOutcome{}, err
		}
		outcome.Claim = &res
	}

	if !msg.Group {
		e.metrics.RecordActivity(activityNotGroup)
		return outcome, nil
	}

	checkSpam := true
	if e.governor.Hot() {
		err := e.governor.Enqueue(msg)
		if err == nil {
			e.metrics.RecordActivity(activityQueued)
			outcome.Queued = true

			return outcome, nil
		}

		// A full queue falls through to inline processing without the
		// spam check rather than losing the message.
		if errors.Is(err, ErrQueueFull) {
			e.metrics.RecordActivity(activityOverflow)
			checkSpam = false
		}
	}

	done := e.governor.Enter()
	defer done()

	counted, spawned, err := e.countActivity(ctx, msg, checkSpam)
	outcome.Counted = counted
	outcome.Spawned = spawned

	return outcome, err
}

// HandleChatMessage adapts OnChatMessage to ingest.Handler.
//
// Only engine unavailability is returned, so the consumer redelivers
// messages it could not hand over and acknowledges everything else.
func (e *Engine) HandleChatMessage(ctx context.Context, msg ChatMessage) error {
	_, err := e.OnChatMessage(ctx, msg)
	if errors.Is(err, ErrNotStarted) {
		return err
	}
	if err != nil {
		e.logger.Debug("ingested chat message failed", "chat_id", msg.ChatID, "sender_id", msg.SenderID, "error", err)
	}

	return nil
}

// handleQueued processes a message popped from the overload queue.
func (e *Engine) handleQueued(ctx context.Context, msg ChatMessage) {
	if _, _, err := e.countActivity(ctx, msg, true); err != nil {
		e.logger.Debug("queued activity failed", "chat_id", msg.ChatID, "error", err)
	}
}

// isBanned consults the ban checker. Lookup failures let the message through.
func (e *Engine) isBanned(ctx context.Context, userID int64) bool {
	if e.deps.Bans == nil {
		return false
	}

	banned, err := e.deps.Bans.IsBanned(ctx, userID)
	if err != nil {
		e.logger.Warn("ban lookup failed, treating user as not banned", "user_id", userID, "error", err)
		return false
	}

	return banned
}

// countActivity applies one qualifying message to its chat.
//
// The threshold is read fresh on every message. Only the crossing message
// takes the chat's spawn lock, so ordinary messages never wait on a publish
// and a second crossing in the same chat waits for the first spawn to finish.
//
// Returns:
//   - bool: true if the message counted
//   - *DropRecord: The spawned drop, if this message triggered one
//   - error: Spawn failure other than an exhausted pool
func (e *Engine) countActivity(ctx context.Context, msg ChatMessage, checkSpam bool) (bool, *DropRecord, error) {
	c := e.chats.Acquire(msg.ChatID)
	defer e.chats.Release(c)

	if checkSpam && !c.AllowSender(msg.SenderID, e.clock(), e.cfg.Spam.MaxMessages, e.cfg.Spam.Window) {
		e.metrics.RecordActivity(activitySpam)
		return false, nil, nil
	}

	threshold := e.chats.Threshold(msg.ChatID, e.cfg.Threshold.Default)
	if _, triggered := c.Tick(threshold); !triggered {
		e.metrics.RecordActivity(activityCounted)
		return true, nil, nil
	}
	e.metrics.RecordActivity(activityTriggered)

	// Tick resets the counter under the chat lock, so each crossing is seen
	// by exactly one message.
	unlock := c.LockSpawn()
	defer unlock()

	drop, err := e.spawnLocked(ctx, c, "")
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			return true, nil, nil
		}

		return true, nil, err
	}

	return true, &drop, nil
}
