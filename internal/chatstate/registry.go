// Package chatstate owns per-chat engine state.
//
// The Registry replaces process-wide maps with an instance owned by the
// engine: chats are created lazily on first use, each behind its own locks,
// and idle chats are evicted only by an explicit bounded policy (Sweep).
// The claimant guard set spans all chats since a claimant may only have one
// attempt in flight anywhere.
package chatstate

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/spawn/types"
)

// Options configures a Registry.
type Options struct {
	// MaxChats is the registry size above which Sweep evicts idle chats (0 disables eviction).
	MaxChats int

	// IdleAfter is how long a chat must be unused before it can be evicted.
	IdleAfter time.Duration

	// Clock returns the current time (time.Now when nil).
	Clock func() time.Time
}

// Registry tracks every chat known to the engine.
type Registry struct {
	chats      *xsync.Map[int64, *Chat]
	thresholds *xsync.Map[int64, int]
	claimants  *xsync.Map[int64, struct{}]
	opts       Options
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Registry{
		chats:      xsync.NewMap[int64, *Chat](),
		thresholds: xsync.NewMap[int64, int](),
		claimants:  xsync.NewMap[int64, struct{}](),
		opts:       opts,
	}
}

// Acquire returns the chat for id, creating it if needed, and pins it against
// eviction until Release is called.
//
// Example:
//
//	c := reg.Acquire(chatID)
//	defer reg.Release(c)
func (r *Registry) Acquire(id int64) *Chat {
	for {
		c, ok := r.chats.Load(id)
		if !ok {
			c, _ = r.chats.LoadOrStore(id, newChat(id, r.opts.Clock()))
		}

		c.mu.Lock()
		if c.evicted {
			// Lost a race with Sweep; the map no longer holds c.
			c.mu.Unlock()
			continue
		}
		c.refs++
		c.lastSeen = r.opts.Clock()
		c.mu.Unlock()

		return c
	}
}

// Release unpins a chat obtained from Acquire.
func (r *Registry) Release(c *Chat) {
	c.mu.Lock()
	c.refs--
	c.mu.Unlock()
}

// Peek returns the chat for id without creating or pinning it.
func (r *Registry) Peek(id int64) (*Chat, bool) {
	return r.chats.Load(id)
}

// Len returns the number of tracked chats.
func (r *Registry) Len() int {
	return r.chats.Size()
}

// Range calls fn for every tracked chat until fn returns false.
func (r *Registry) Range(fn func(c *Chat) bool) {
	r.chats.Range(func(_ int64, c *Chat) bool {
		return fn(c)
	})
}

// Sweep evicts idle chats while the registry is above MaxChats.
//
// A chat is evictable when it has no live drop, no attempt in flight, no
// pinned users, and was last used more than IdleAfter ago. Threshold
// overrides are kept since they live outside the chat.
//
// Returns:
//   - []int64: IDs of evicted chats
func (r *Registry) Sweep() []int64 {
	if r.opts.MaxChats <= 0 || r.chats.Size() <= r.opts.MaxChats {
		return nil
	}

	cutoff := r.opts.Clock().Add(-r.opts.IdleAfter)
	excess := r.chats.Size() - r.opts.MaxChats

	var evicted []int64
	r.chats.Range(func(id int64, c *Chat) bool {
		c.mu.Lock()
		idle := c.refs == 0 && c.active == nil && len(c.guarded) == 0 && c.lastSeen.Before(cutoff)
		if idle {
			c.evicted = true
			r.chats.Delete(id)
		}
		c.mu.Unlock()

		if idle {
			evicted = append(evicted, id)
		}

		return len(evicted) < excess
	})

	return evicted
}

// Threshold returns the override for id, or def if none is set.
func (r *Registry) Threshold(id int64, def int) int {
	if n, ok := r.thresholds.Load(id); ok {
		return n
	}

	return def
}

// SetThreshold stores an override for id. It takes effect on the next Tick.
func (r *Registry) SetThreshold(id int64, n int) {
	r.thresholds.Store(id, n)
}

// ClaimantBusy reports whether claimantID has an attempt in flight.
func (r *Registry) ClaimantBusy(claimantID int64) bool {
	_, ok := r.claimants.Load(claimantID)
	return ok
}

// BusyClaimants returns the number of claimants with an attempt in flight.
func (r *Registry) BusyClaimants() int {
	return r.claimants.Size()
}

// Ticket is an admitted claim attempt holding both in-flight guards.
//
// Release must be called on every exit path; it is idempotent.
type Ticket struct {
	reg        *Registry
	chat       *Chat
	drop       types.DropRecord
	claimantID int64
	released   atomic.Bool
}

// BeginClaim resolves the live drop and, if the attempt may proceed, marks the
// drop's handle and the claimant as in flight in one critical section.
//
// Parameters:
//   - c: Chat obtained from Acquire
//   - claimantID: User attempting the claim
//   - replyTo: Message the attempt replied to (0 when not a reply)
//
// Returns:
//   - *Ticket: Non-nil when both guards were taken
//   - types.ClaimResult: Rejection when the ticket is nil
func (r *Registry) BeginClaim(c *Chat, claimantID int64, replyTo int64) (*Ticket, types.ClaimResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || (replyTo != 0 && replyTo != c.active.MessageID) {
		res := types.ClaimResult{Reason: types.RejectNoActiveDrop}
		if c.lastClaim != nil && (replyTo == 0 || replyTo == c.lastClaim.MessageID) {
			lc := *c.lastClaim
			res.LastClaim = &lc
		}
		if c.active != nil {
			live := *c.active
			res.Drop = &live
		}

		return nil, res
	}

	live := *c.active
	if _, busy := c.guarded[live.MessageID]; busy {
		return nil, types.ClaimResult{Reason: types.RejectAlreadyBeingClaimed, Drop: &live}
	}
	if _, loaded := r.claimants.LoadOrStore(claimantID, struct{}{}); loaded {
		return nil, types.ClaimResult{Reason: types.RejectAlreadyAttempting, Silent: true}
	}

	if c.guarded == nil {
		c.guarded = make(map[int64]struct{})
	}
	c.guarded[live.MessageID] = struct{}{}

	return &Ticket{reg: r, chat: c, drop: live, claimantID: claimantID}, types.ClaimResult{}
}

// Drop returns the drop the ticket was admitted for.
func (t *Ticket) Drop() types.DropRecord {
	return t.drop
}

// Commit retires the drop after a successful attribution and records the winner.
//
// The live drop is only removed if it is still the one the ticket was issued
// for; a drop that was superseded or cleared meanwhile is left alone.
//
// Returns:
//   - bool: true if the drop was removed from the chat
func (t *Ticket) Commit(claimedAt time.Time) bool {
	c := t.chat

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastClaim = &types.LastClaim{
		MessageID:   t.drop.MessageID,
		EntityID:    t.drop.EntityID,
		DisplayName: t.drop.DisplayName,
		ClaimantID:  t.claimantID,
		ClaimedAt:   claimedAt,
	}

	if c.active != nil && c.active.MessageID == t.drop.MessageID && c.active.EntityID == t.drop.EntityID {
		c.active = nil
		return true
	}

	return false
}

// Release drops both guards. Safe to call more than once.
func (t *Ticket) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}

	t.chat.mu.Lock()
	delete(t.chat.guarded, t.drop.MessageID)
	t.chat.mu.Unlock()

	t.reg.claimants.Delete(t.claimantID)
}
