package chatstate

import (
	"sync"
	"time"

	"github.com/arloliu/spawn/types"
)

// Chat holds the mutable state of one chat.
//
// Three locks with disjoint roles:
//   - mu guards the fields below; sections under it never perform I/O
//   - spawnMu serializes spawn paths (trigger, force spawn) including their publish call
//   - persistMu serializes durability store writes for this chat
//
// No code path holds mu while acquiring spawnMu or persistMu.
type Chat struct {
	id int64

	spawnMu   sync.Mutex
	persistMu sync.Mutex

	mu        sync.Mutex
	count     int
	active    *types.DropRecord
	guarded   map[int64]struct{}
	lastClaim *types.LastClaim
	senders   map[int64]*senderWindow
	lastSeen  time.Time
	refs      int
	evicted   bool
}

type senderWindow struct {
	start time.Time
	n     int
}

func newChat(id int64, now time.Time) *Chat {
	return &Chat{id: id, lastSeen: now}
}

// ID returns the chat identifier.
func (c *Chat) ID() int64 {
	return c.id
}

// Count returns the current activity count.
func (c *Chat) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.count
}

// Tick records one qualifying message against threshold.
//
// The count resets to zero in the same critical section in which it first
// reaches threshold, so exactly one caller observes triggered for each crossing.
//
// Parameters:
//   - threshold: Messages per spawn (values < 1 are treated as 1)
//
// Returns:
//   - int: Count after this message (0 when triggered)
//   - bool: true if this message crossed the threshold
func (c *Chat) Tick(threshold int) (int, bool) {
	if threshold < 1 {
		threshold = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	if c.count >= threshold {
		c.count = 0
		return 0, true
	}

	return c.count, false
}

// LockSpawn acquires the spawn lock and returns its release function.
func (c *Chat) LockSpawn() func() {
	c.spawnMu.Lock()
	return c.spawnMu.Unlock
}

// LockPersist acquires the persistence lock and returns its release function.
func (c *Chat) LockPersist() func() {
	c.persistMu.Lock()
	return c.persistMu.Unlock
}

// ActiveDrop returns the live drop, if any.
func (c *Chat) ActiveDrop() (types.DropRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return types.DropRecord{}, false
	}

	return *c.active, true
}

// IsActive reports whether drop is still the live drop (same entity and handle).
func (c *Chat) IsActive(drop types.DropRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active != nil && c.active.MessageID == drop.MessageID && c.active.EntityID == drop.EntityID
}

// Install makes drop the live drop and returns the drop it superseded.
//
// Returns:
//   - types.DropRecord: Previous live drop (zero value if none)
//   - bool: true if a previous drop was superseded
func (c *Chat) Install(drop types.DropRecord) (types.DropRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.active
	d := drop
	c.active = &d

	if prev == nil {
		return types.DropRecord{}, false
	}

	return *prev, true
}

// Clear removes the live drop.
//
// Returns:
//   - types.DropRecord: Removed drop
//   - bool: false if there was nothing to remove
func (c *Chat) Clear() (types.DropRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return types.DropRecord{}, false
	}
	prev := *c.active
	c.active = nil

	return prev, true
}

// LastClaim returns who claimed the most recent drop.
func (c *Chat) LastClaim() (types.LastClaim, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastClaim == nil {
		return types.LastClaim{}, false
	}

	return *c.lastClaim, true
}

// GuardedHandles returns the number of drop handles with an attempt in flight.
func (c *Chat) GuardedHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.guarded)
}

// AllowSender applies per-sender rate suppression.
//
// A sender may count at most maxMessages times per fixed window. Windows of
// other senders that expired are pruned while the lock is held.
//
// Parameters:
//   - senderID: Message author
//   - now: Message time
//   - maxMessages: Messages allowed per window (<= 0 disables suppression)
//   - window: Window length
//
// Returns:
//   - bool: false if the sender exceeded the limit
func (c *Chat) AllowSender(senderID int64, now time.Time, maxMessages int, window time.Duration) bool {
	if maxMessages <= 0 || window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.senders == nil {
		c.senders = make(map[int64]*senderWindow)
	}

	w, ok := c.senders[senderID]
	if !ok || now.Sub(w.start) >= window {
		if len(c.senders) >= maxSenderWindows {
			c.pruneSendersLocked(now, window)
		}
		c.senders[senderID] = &senderWindow{start: now, n: 1}

		return true
	}

	w.n++

	return w.n <= maxMessages
}

const maxSenderWindows = 1024

func (c *Chat) pruneSendersLocked(now time.Time, window time.Duration) {
	for id, w := range c.senders {
		if now.Sub(w.start) >= window {
			delete(c.senders, id)
		}
	}
}
