package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spawn/types"
)

// Handler processes one decoded chat event.
//
// Returning an error NAKs the message so it is redelivered after NakDelay,
// up to MaxDeliver attempts. Design handlers to tolerate redelivery.
type Handler interface {
	HandleChatMessage(ctx context.Context, msg types.ChatMessage) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, msg types.ChatMessage) error

// HandleChatMessage implements Handler.
func (f HandlerFunc) HandleChatMessage(ctx context.Context, msg types.ChatMessage) error {
	return f(ctx, msg)
}

// Consumer runs a durable pull consumer over the chat event stream.
type Consumer struct {
	js      jetstream.JetStream
	config  Config
	logger  types.Logger
	metrics types.MetricsCollector
	handler Handler

	mu       sync.Mutex
	consumer jetstream.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConsumer creates a consumer. Call Start to begin pulling.
//
// Parameters:
//   - js: JetStream context (must be non-nil)
//   - cfg: Consumer configuration; zero fields take defaults
//   - handler: Receives each decoded event
//
// Returns:
//   - *Consumer: Initialized consumer
//   - error: Missing dependency
//
// Example:
//
//	cons, err := ingest.NewConsumer(js, ingest.Config{Logger: logger}, ingest.HandlerFunc(eng.HandleIngested))
//	if err != nil { /* handle */ }
//	if err := cons.Start(ctx); err != nil { /* handle */ }
//	defer cons.Close(context.Background())
func NewConsumer(js jetstream.JetStream, cfg Config, handler Handler) (*Consumer, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	cfg.applyDefaults()

	return &Consumer{
		js:      js,
		config:  cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		handler: handler,
	}, nil
}

// Start creates or updates the durable consumer and launches the pull loop.
//
// The pull loop runs until Close; ctx only bounds consumer creation.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return types.ErrAlreadyStarted
	}
	c.mu.Unlock()

	var cons jetstream.Consumer
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cons, lastErr = c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, c.config.consumerConfig())
		if lastErr == nil {
			break
		}
		if attempt >= c.config.MaxRetries {
			return fmt.Errorf("failed to create consumer %s after %d attempts: %w",
				c.config.ConsumerName, c.config.MaxRetries+1, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryBackoff):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return types.ErrAlreadyStarted
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	c.consumer = cons
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.runPullLoop(pullCtx, cons, c.done)

	c.logger.Info("chat event consumer started",
		"stream", c.config.StreamName, "consumer", c.config.ConsumerName, "filter", c.config.FilterSubject)

	return nil
}

// runPullLoop pulls messages until ctx is cancelled, recreating the iterator
// on heartbeat loss and transient errors.
func (c *Consumer) runPullLoop(ctx context.Context, cons jetstream.Consumer, done chan struct{}) {
	defer close(done)

	for {
		iter, err := cons.Messages(
			jetstream.PullMaxMessages(c.config.BatchSize),
			jetstream.PullExpiry(c.config.FetchTimeout),
			jetstream.PullHeartbeat(c.config.FetchTimeout/2),
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to create chat event iterator", "error", err)
			c.metrics.RecordIngestIteratorRestart("create_failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.RetryBackoff):
				continue
			}
		}

		// Next blocks; Stop unblocks it on shutdown.
		stop := context.AfterFunc(ctx, iter.Stop)
		reason := c.consume(ctx, iter)
		stop()
		iter.Stop()

		if ctx.Err() != nil || reason == "" {
			return
		}
		c.metrics.RecordIngestIteratorRestart(reason)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryBackoff):
		}
	}
}

// consume drains iter and returns why it stopped ("" for a final stop).
func (c *Consumer) consume(ctx context.Context, iter jetstream.MessagesContext) string {
	for {
		msg, err := iter.Next()
		if err != nil {
			switch {
			case errors.Is(err, jetstream.ErrMsgIteratorClosed),
				errors.Is(err, context.Canceled),
				errors.Is(err, context.DeadlineExceeded):
				if ctx.Err() != nil {
					return ""
				}

				return "closed"
			case errors.Is(err, jetstream.ErrNoHeartbeat):
				c.logger.Warn("chat event consumer: no heartbeat, recreating iterator")
				return "no_heartbeat"
			default:
				c.logger.Warn("chat event consumer: iterator error, recreating", "error", err)
				return "error"
			}
		}

		c.dispatch(ctx, msg)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg) {
	var event types.ChatMessage
	if err := json.Unmarshal(msg.Data(), &event); err != nil || event.ChatID == 0 {
		c.logger.Warn("terminating undecodable chat event", "subject", msg.Subject(), "error", err)
		c.metrics.RecordIngestMessage("malformed")
		_ = msg.Term()

		return
	}

	if err := c.handler.HandleChatMessage(ctx, event); err != nil {
		c.logger.Debug("chat event handler failed, scheduling redelivery", "chat_id", event.ChatID, "error", err)
		c.metrics.RecordIngestMessage("nak")
		_ = msg.NakWithDelay(c.config.NakDelay)

		return
	}

	c.metrics.RecordIngestMessage("ack")
	_ = msg.Ack()
}

// Close stops the pull loop and waits for it to exit.
//
// The durable consumer is kept on the server so a restarted engine resumes
// where this one stopped.
//
// Parameters:
//   - ctx: Bounds the wait for the loop to exit
//
// Returns:
//   - error: ctx.Err() if the loop did not exit in time
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.consumer = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.logger.Info("chat event consumer closed")
		return nil
	case <-ctx.Done():
		c.logger.Warn("close context cancelled before the pull loop exited")
		return ctx.Err()
	}
}

// Info returns the durable consumer's server-side state.
func (c *Consumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.Lock()
	cons := c.consumer
	c.mu.Unlock()

	if cons == nil {
		return nil, types.ErrNotStarted
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	return info, nil
}
