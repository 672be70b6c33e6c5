// Package claimer simulates the chat side: it delivers announcements and has
// users race to claim each drop.
package claimer

import (
	"context"
	rand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/spawn/test/simulation/internal/producer"
	"github.com/arloliu/spawn/types"
)

// Publisher delivers chat messages into the pipeline.
type Publisher interface {
	Publish(ctx context.Context, msg types.ChatMessage) (string, error)
}

// Config configures the simulated claimants.
type Config struct {
	// PerDrop is the number of users guessing each announced drop.
	PerDrop int

	// Accuracy is the probability a guess names the right entity.
	Accuracy float64

	// MinDelay and MaxDelay bound a user's reaction time.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Senders is the number of distinct users per chat.
	Senders int

	Seed   uint64
	Logger types.Logger
}

// Room is a types.Transport that shows every announcement to simulated users.
//
// Users recognize an entity by its media, so the catalog maps media
// references to names. Guesses are sent back through the publisher as
// replies to the announcement.
type Room struct {
	cfg     Config
	pub     Publisher
	byMedia map[string]string
	names   []string

	ctx    context.Context
	nextID atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	wg       sync.WaitGroup
	guesses  atomic.Int64
	edits    atomic.Int64
	failures atomic.Int64
}

var _ types.Transport = (*Room)(nil)

// NewRoom creates a room.
//
// Parameters:
//   - ctx: Bounds all scheduled guesses
//   - cfg: Claimant behavior
//   - catalog: Entities users can recognize
//   - pub: Where guesses are sent
//
// Returns:
//   - *Room: Ready transport
func NewRoom(ctx context.Context, cfg Config, catalog []types.Entity, pub Publisher) *Room {
	byMedia := make(map[string]string, len(catalog))
	names := make([]string, 0, len(catalog))
	for _, e := range catalog {
		byMedia[e.MediaRef] = e.Name
		names = append(names, e.Name)
	}

	return &Room{
		cfg:     cfg,
		pub:     pub,
		byMedia: byMedia,
		names:   names,
		ctx:     ctx,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5bd1e995)), //nolint:gosec // simulated behavior only
	}
}

// Publish implements types.Transport and schedules the guesses for the drop.
func (r *Room) Publish(_ context.Context, chatID int64, mediaRef string, _ string) (int64, error) {
	id := r.nextID.Add(1)

	for range r.cfg.PerDrop {
		guess, delay, sender := r.plan(chatID, mediaRef)

		r.wg.Add(1)
		time.AfterFunc(delay, func() {
			defer r.wg.Done()
			r.send(chatID, id, sender, guess)
		})
	}

	return id, nil
}

// EditCaption implements types.Transport.
func (r *Room) EditCaption(context.Context, int64, int64, string) error {
	r.edits.Add(1)
	return nil
}

// Pin implements types.Transport.
func (r *Room) Pin(context.Context, int64, int64) error {
	return nil
}

// plan draws one user's guess, reaction time and identity.
func (r *Room) plan(chatID int64, mediaRef string) (string, time.Duration, int64) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()

	guess := r.byMedia[mediaRef]
	if len(r.names) > 0 && (guess == "" || r.rng.Float64() >= r.cfg.Accuracy) {
		guess = r.names[r.rng.IntN(len(r.names))]
	}

	delay := r.cfg.MinDelay
	if span := r.cfg.MaxDelay - r.cfg.MinDelay; span > 0 {
		delay += time.Duration(r.rng.Int64N(int64(span)))
	}

	return guess, delay, producer.SenderID(chatID, r.rng.IntN(max(r.cfg.Senders, 1)))
}

func (r *Room) send(chatID, replyTo, sender int64, guess string) {
	if r.ctx.Err() != nil {
		return
	}

	msg := types.ChatMessage{
		ChatID:   chatID,
		SenderID: sender,
		Group:    true,
		ReplyTo:  replyTo,
		Evidence: guess,
		SentAt:   time.Now().UTC(),
	}
	if _, err := r.pub.Publish(r.ctx, msg); err != nil {
		r.failures.Add(1)
		if r.ctx.Err() == nil {
			r.cfg.Logger.Warn("failed to publish guess", "chat_id", chatID, "error", err)
		}

		return
	}

	r.guesses.Add(1)
}

// Wait blocks until every scheduled guess was sent or dropped.
func (r *Room) Wait() {
	r.wg.Wait()
}

// Stats is a snapshot of room activity.
type Stats struct {
	Announced int64
	Guesses   int64
	Edits     int64
	Failures  int64
}

// Stats returns current counts.
func (r *Room) Stats() Stats {
	return Stats{
		Announced: r.nextID.Load(),
		Guesses:   r.guesses.Load(),
		Edits:     r.edits.Load(),
		Failures:  r.failures.Load(),
	}
}
