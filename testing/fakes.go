package testing

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/spawn/types"
)

// Announcement is a message published through Transport.
type Announcement struct {
	ChatID    int64
	MessageID int64
	MediaRef  string
	Caption   string
}

// CaptionEdit is a caption change recorded by Transport.
type CaptionEdit struct {
	ChatID    int64
	MessageID int64
	Caption   string
}

// Transport is an in-memory types.Transport that records every call.
//
// Message IDs are assigned sequentially starting at 1001.
type Transport struct {
	mu        sync.Mutex
	nextID    atomic.Int64
	published []Announcement
	edits     []CaptionEdit
	pins      []int64

	publishErr error
	editErr    error
	pinErr     error
	delay      time.Duration
}

var _ types.Transport = (*Transport)(nil)

// NewTransport creates a recording transport.
func NewTransport() *Transport {
	t := &Transport{}
	t.nextID.Store(1000)

	return t
}

// FailPublish makes subsequent Publish calls return err (nil restores success).
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishErr = err
}

// FailEdit makes subsequent EditCaption calls return err.
func (t *Transport) FailEdit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.editErr = err
}

// FailPin makes subsequent Pin calls return err.
func (t *Transport) FailPin(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinErr = err
}

// SetDelay makes Publish sleep for d before returning, widening race windows.
func (t *Transport) SetDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
}

// Publish implements types.Transport.
func (t *Transport) Publish(ctx context.Context, chatID int64, mediaRef string, caption string) (int64, error) {
	t.mu.Lock()
	err, delay := t.publishErr, t.delay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return 0, err
	}

	id := t.nextID.Add(1)

	t.mu.Lock()
	t.published = append(t.published, Announcement{ChatID: chatID, MessageID: id, MediaRef: mediaRef, Caption: caption})
	t.mu.Unlock()

	return id, nil
}

// EditCaption implements types.Transport.
func (t *Transport) EditCaption(_ context.Context, chatID int64, messageID int64, caption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.editErr != nil {
		return t.editErr
	}
	t.edits = append(t.edits, CaptionEdit{ChatID: chatID, MessageID: messageID, Caption: caption})

	return nil
}

// Pin implements types.Transport.
func (t *Transport) Pin(_ context.Context, _ int64, messageID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pinErr != nil {
		return t.pinErr
	}
	t.pins = append(t.pins, messageID)

	return nil
}

// Published returns a copy of all successful announcements.
func (t *Transport) Published() []Announcement {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.published)
}

// PublishedIn returns the announcements for chatID.
func (t *Transport) PublishedIn(chatID int64) []Announcement {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Announcement
	for _, a := range t.published {
		if a.ChatID == chatID {
			out = append(out, a)
		}
	}

	return out
}

// Edits returns a copy of all caption edits.
func (t *Transport) Edits() []CaptionEdit {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.edits)
}

// Pins returns the pinned message IDs.
func (t *Transport) Pins() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.pins)
}

// Grant is a successful attribution recorded by Attributor.
type Grant struct {
	ClaimantID int64
	EntityID   string
	SourceTag  string
}

// Attributor is an in-memory types.Attributor that records grants.
type Attributor struct {
	mu     sync.Mutex
	grants []Grant
	calls  atomic.Int64
	err    error
	delay  time.Duration
}

var _ types.Attributor = (*Attributor)(nil)

// NewAttributor creates a recording attributor.
func NewAttributor() *Attributor {
	return &Attributor{}
}

// Fail makes subsequent Attribute calls return err (nil restores success).
func (a *Attributor) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// SetDelay makes Attribute sleep for d, keeping guards held longer.
func (a *Attributor) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Attribute implements types.Attributor.
func (a *Attributor) Attribute(ctx context.Context, claimantID int64, entityID string, sourceTag string) error {
	a.calls.Add(1)

	a.mu.Lock()
	err, delay := a.err, a.delay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.grants = append(a.grants, Grant{ClaimantID: claimantID, EntityID: entityID, SourceTag: sourceTag})
	a.mu.Unlock()

	return nil
}

// Calls returns the number of Attribute invocations, including failed ones.
func (a *Attributor) Calls() int {
	return int(a.calls.Load())
}

// Grants returns a copy of successful grants.
func (a *Attributor) Grants() []Grant {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Clone(a.grants)
}

// BanList is a static types.BanChecker.
type BanList struct {
	mu     sync.RWMutex
	banned map[int64]struct{}
}

var _ types.BanChecker = (*BanList)(nil)

// NewBanList creates a ban checker that rejects the given users.
func NewBanList(userIDs ...int64) *BanList {
	b := &BanList{banned: make(map[int64]struct{}, len(userIDs))}
	for _, id := range userIDs {
		b.banned[id] = struct{}{}
	}

	return b
}

// Ban adds userID to the list.
func (b *BanList) Ban(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banned[userID] = struct{}{}
}

// IsBanned implements types.BanChecker.
func (b *BanList) IsBanned(_ context.Context, userID int64) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.banned[userID]

	return ok, nil
}

// Reward is a bonus award recorded by Rewarder.
type Reward struct {
	ClaimantID int64
	Amount     int64
}

// Rewarder is an in-memory types.Rewarder.
type Rewarder struct {
	mu      sync.Mutex
	rewards []Reward
	err     error
}

var _ types.Rewarder = (*Rewarder)(nil)

// NewRewarder creates a recording rewarder.
func NewRewarder() *Rewarder {
	return &Rewarder{}
}

// Fail makes subsequent Reward calls return err.
func (r *Rewarder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Reward implements types.Rewarder.
func (r *Rewarder) Reward(_ context.Context, claimantID int64, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.rewards = append(r.rewards, Reward{ClaimantID: claimantID, Amount: amount})

	return nil
}

// Rewards returns a copy of recorded awards.
func (r *Rewarder) Rewards() []Reward {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.rewards)
}
