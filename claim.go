package spawn

import (
	"context"
	"fmt"
	"time"
)

// Claim results recorded by metrics.
const (
	claimAccepted = "accepted"
	claimFailed   = "attribution_failed"
)

// AttemptClaim tries to claim the live drop of chatID for claimantID.
//
// At most one attempt per drop and one attempt per claimant are in flight at
// any time; concurrent attempts are rejected immediately rather than queued.
// The guess is matched outside any lock, and the drop is attributed through
// the Attributor before it is retired, so a drop is granted at most once.
//
// Parameters:
//   - ctx: Context for the attribution and store calls
//   - chatID: Chat the attempt was made in
//   - claimantID: User making the attempt
//   - evidence: Free-text guess of the display name
//   - replyTo: Handle of the message the attempt replied to (0 when not a reply)
//
// Returns:
//   - ClaimResult: Accepted, or a rejection reason. Rejections are expected
//     outcomes, not errors
//   - error: ErrNotStarted, ErrInvalidChat, or ErrAttributionFailed; the
//     attempt may be retried after an attribution failure
func (e *Engine) AttemptClaim(ctx context.Context, chatID, claimantID int64, evidence string, replyTo int64) (ClaimResult, error) {
	if !e.running() {
		return ClaimResult{}, ErrNotStarted
	}
	if chatID == 0 {
		return ClaimResult{}, ErrInvalidChat
	}

	c := e.chats.Acquire(chatID)
	defer e.chats.Release(c)

	ticket, rejected := e.chats.BeginClaim(c, claimantID, replyTo)
	if ticket == nil {
		e.metrics.RecordClaim(rejected.Reason.String())
		e.logger.Debug("claim rejected", "chat_id", chatID, "claimant_id", claimantID, "reason", rejected.Reason.String())

		return rejected, nil
	}
	defer ticket.Release()

	drop := ticket.Drop()
	if !e.rules.Match(evidence, drop.DisplayName) {
		e.metrics.RecordClaim(RejectEvidenceMismatch.String())

		return ClaimResult{Reason: RejectEvidenceMismatch, Drop: &drop}, nil
	}

	started := time.Now()
	err := e.deps.Attributor.Attribute(ctx, claimantID, drop.EntityID, e.cfg.Claim.SourceTag)
	e.metrics.RecordAttributionDuration(time.Since(started).Seconds(), err == nil)
	if err != nil {
		e.metrics.RecordClaim(claimFailed)
		e.logger.Warn("attribution failed, claim can be retried",
			"chat_id", chatID, "claimant_id", claimantID, "entity_id", drop.EntityID, "error", err)
		err = fmt.Errorf("%w: %w", ErrAttributionFailed, err)
		e.reportError(err)

		return ClaimResult{}, err
	}

	if ticket.Commit(e.clock()) {
		// The record is only ours to delete if the drop was still live.
		_ = e.deleteRecord(ctx, c, drop.EntityID)
	}

	if err := e.deps.Transport.EditCaption(ctx, chatID, drop.MessageID, e.captioner.Claimed(drop, claimantID)); err != nil {
		e.logger.Warn("failed to update caption of claimed drop", "chat_id", chatID, "handle", drop.MessageID, "error", err)
	}

	e.maybeReward(ctx, claimantID)

	e.metrics.RecordClaim(claimAccepted)
	e.logger.Info("drop claimed", "chat_id", chatID, "claimant_id", claimantID, "entity_id", drop.EntityID, "handle", drop.MessageID)
	e.runHook("on-claimed", func(ctx context.Context) error {
		return e.hooks.OnClaimed(ctx, drop, claimantID)
	})

	return ClaimResult{Accepted: true, Drop: &drop}, nil
}

// maybeReward grants the bonus award with probability Bonus.Chance.
// Failures never affect the claim.
func (e *Engine) maybeReward(ctx context.Context, claimantID int64) {
	if e.rewarder == nil || e.cfg.Bonus.Chance <= 0 {
		return
	}

	const resolution = 1_000_000
	if e.rng.Int64N(resolution) >= int64(e.cfg.Bonus.Chance*resolution) {
		return
	}

	amount := e.cfg.Bonus.Min + e.rng.Int64N(e.cfg.Bonus.Max-e.cfg.Bonus.Min+1)
	if err := e.rewarder.Reward(ctx, claimantID, amount); err != nil {
		e.logger.Warn("bonus award failed", "claimant_id", claimantID, "amount", amount, "error", err)
	}
}
