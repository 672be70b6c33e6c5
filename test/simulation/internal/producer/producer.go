// Package producer generates simulated group chat traffic.
package producer

import (
	"context"
	rand "math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/arloliu/spawn/types"
)

// Publisher delivers chat messages into the pipeline.
type Publisher interface {
	Publish(ctx context.Context, msg types.ChatMessage) (string, error)
}

// Producer sends plain group messages for a fixed set of chats.
//
// Each tick picks a chat in proportion to its weight and a random sender from
// that chat's members.
type Producer struct {
	id       string
	pub      Publisher
	chatIDs  []int64
	weights  []int64
	total    int64
	senders  int
	interval time.Duration
	rng      *rand.Rand
	logger   types.Logger

	sent    atomic.Int64
	failed  atomic.Int64
	started atomic.Bool
}

// Config configures a producer.
type Config struct {
	ID      string
	ChatIDs []int64
	Weights []int64

	// Rate is the average messages per second per chat.
	Rate float64

	// Senders is the number of distinct users per chat.
	Senders int

	Seed   uint64
	Logger types.Logger
}

// SenderID returns the user ID of sender n in chatID. IDs are unique across chats.
func SenderID(chatID int64, n int) int64 {
	if chatID < 0 {
		chatID = -chatID
	}

	return chatID*1000 + int64(n) + 1
}

// New creates a producer.
func New(cfg Config, pub Publisher) *Producer {
	var total int64
	for _, w := range cfg.Weights {
		total += w
	}

	rate := cfg.Rate * float64(len(cfg.ChatIDs))
	if rate <= 0 {
		rate = 1
	}

	return &Producer{
		id:       cfg.ID,
		pub:      pub,
		chatIDs:  cfg.ChatIDs,
		weights:  cfg.Weights,
		total:    total,
		senders:  max(cfg.Senders, 1),
		interval: time.Duration(float64(time.Second) / rate),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)), //nolint:gosec // traffic shape only
		logger:   cfg.Logger,
	}
}

// Start produces messages until ctx is canceled. Later calls while running are ignored.
func (p *Producer) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	defer p.started.Store(false)

	if len(p.chatIDs) == 0 || p.total <= 0 {
		return
	}

	p.logger.Info("producer started", "producer", p.id, "chats", len(p.chatIDs), "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("producer stopped", "producer", p.id, "sent", p.sent.Load())
			return
		case <-ticker.C:
			chatID := p.pickChat()
			msg := types.ChatMessage{
				ChatID:   chatID,
				SenderID: SenderID(chatID, p.rng.IntN(p.senders)),
				Group:    true,
				SentAt:   time.Now().UTC(),
			}
			if _, err := p.pub.Publish(ctx, msg); err != nil {
				p.failed.Add(1)
				if ctx.Err() == nil {
					p.logger.Warn("failed to publish chat message", "producer", p.id, "chat_id", chatID, "error", err)
				}

				continue
			}
			p.sent.Add(1)
		}
	}
}

// pickChat draws a chat by weight.
func (p *Producer) pickChat() int64 {
	draw := p.rng.Int64N(p.total)
	for i, w := range p.weights {
		if draw < w {
			return p.chatIDs[i]
		}
		draw -= w
	}

	return p.chatIDs[len(p.chatIDs)-1]
}

// Sent returns the number of messages published.
func (p *Producer) Sent() int64 {
	return p.sent.Load()
}

// Failed returns the number of failed publishes.
func (p *Producer) Failed() int64 {
	return p.failed.Load()
}
