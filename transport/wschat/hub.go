// Package wschat is a websocket chat transport for the engine.
//
// Clients connect to the handler with ?chat=<id>&user=<id> and join that
// chat's room. The hub implements types.Transport: announcements, caption
// edits and pins are broadcast to every client in the room. Frames sent by
// clients are converted to types.ChatMessage and passed to the inbound
// handler; claim outcomes are answered to the sender only.
package wschat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/types"
)

// ErrClosed is returned by transport calls after Close.
var ErrClosed = errors.New("wschat: hub closed")

// ErrUnknownMessage is returned when editing or pinning a message the hub never published.
var ErrUnknownMessage = errors.New("wschat: unknown message")

// Inbound receives chat messages from clients.
type Inbound func(ctx context.Context, msg types.ChatMessage) (types.MessageOutcome, error)

// Config configures a Hub.
type Config struct {
	// WriteTimeout bounds each frame write (5s when zero).
	WriteTimeout time.Duration

	// CheckOrigin validates the upgrade request origin (all origins when nil).
	CheckOrigin func(r *http.Request) bool

	// FirstMessageID is the handle assigned to the first announcement (1 when zero).
	FirstMessageID int64

	Logger types.Logger
}

// Hub tracks chat rooms and their websocket clients.
type Hub struct {
	cfg      Config
	logger   types.Logger
	upgrader websocket.Upgrader
	inbound  atomic.Pointer[Inbound]

	nextID atomic.Int64

	mu       sync.RWMutex
	rooms    map[int64]map[*client]struct{}
	messages map[int64]int64 // message ID -> chat ID
	closed   bool
}

var _ types.Transport = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.FirstMessageID <= 0 {
		cfg.FirstMessageID = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	h := &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		rooms:    make(map[int64]map[*client]struct{}),
		messages: make(map[int64]int64),
	}
	h.nextID.Store(cfg.FirstMessageID - 1)

	return h
}

// SetInbound installs the handler for client messages. The hub is usually
// created before the engine, so the handler is attached afterwards.
func (h *Hub) SetInbound(fn Inbound) {
	h.inbound.Store(&fn)
}

// Publish broadcasts an announcement to the chat and returns its handle.
func (h *Hub) Publish(_ context.Context, chatID int64, mediaRef string, caption string) (int64, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	id := h.nextID.Add(1)
	h.messages[id] = chatID
	h.mu.Unlock()

	h.broadcast(chatID, frame{Type: frameSpawn, ChatID: chatID, MessageID: id, MediaRef: mediaRef, Caption: caption})

	return id, nil
}

// EditCaption broadcasts a caption change for a published message.
func (h *Hub) EditCaption(_ context.Context, chatID int64, messageID int64, caption string) error {
	if err := h.checkMessage(chatID, messageID); err != nil {
		return err
	}
	h.broadcast(chatID, frame{Type: frameCaption, ChatID: chatID, MessageID: messageID, Caption: caption})

	return nil
}

// Pin broadcasts a pin of a published message.
func (h *Hub) Pin(_ context.Context, chatID int64, messageID int64) error {
	if err := h.checkMessage(chatID, messageID); err != nil {
		return err
	}
	h.broadcast(chatID, frame{Type: framePin, ChatID: chatID, MessageID: messageID})

	return nil
}

func (h *Hub) checkMessage(chatID, messageID int64) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}
	if owner, ok := h.messages[messageID]; !ok || owner != chatID {
		return fmt.Errorf("%w: %d in chat %d", ErrUnknownMessage, messageID, chatID)
	}

	return nil
}

// Clients returns the number of clients connected to chatID.
func (h *Hub) Clients(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[chatID])
}

func (h *Hub) broadcast(chatID int64, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to marshal chat frame", "type", f.Type, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data, h.cfg.WriteTimeout); err != nil {
			h.logger.Debug("dropping chat client after write failure", "chat_id", chatID, "user_id", c.userID, "error", err)
			h.leave(c)
		}
	}
}

func (h *Hub) join(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	room := h.rooms[c.chatID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[c.chatID] = room
	}
	room[c] = struct{}{}

	return true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	room := h.rooms[c.chatID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.chatID)
	}
	h.mu.Unlock()

	_ = c.conn.Close()
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat"), 10, 64)
	if err != nil || chatID == 0 {
		http.Error(w, "missing or invalid chat", http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	if err != nil || userID == 0 {
		http.Error(w, "missing or invalid user", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "chat_id", chatID, "user_id", userID, "error", err)
		return
	}

	c := &client{conn: conn, chatID: chatID, userID: userID, private: r.URL.Query().Get("private") == "1"}
	if !h.join(c) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()

		return
	}
	defer h.leave(c)

	h.serve(r.Context(), c)
}

func (h *Hub) serve(ctx context.Context, c *client) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in clientFrame
		if err := json.Unmarshal(payload, &in); err != nil {
			h.logger.Debug("discarding malformed chat frame", "chat_id", c.chatID, "user_id", c.userID, "error", err)
			continue
		}

		msg := types.ChatMessage{
			ChatID:   c.chatID,
			SenderID: c.userID,
			Group:    !c.private,
			ReplyTo:  in.ReplyTo,
			SentAt:   time.Now().UTC(),
		}
		switch in.Type {
		case frameMessage:
		case frameClaim:
			if in.Guess == "" {
				continue
			}
			msg.Evidence = in.Guess
		default:
			h.logger.Debug("unknown chat frame type", "type", in.Type)
			continue
		}

		h.dispatch(ctx, c, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, msg types.ChatMessage) {
	fn := h.inbound.Load()
	if fn == nil {
		return
	}

	outcome, err := (*fn)(ctx, msg)
	if err != nil {
		h.reply(c, frame{Type: frameError, ChatID: msg.ChatID, Error: "temporarily unavailable, try again"})
		h.logger.Warn("chat message handling failed", "chat_id", msg.ChatID, "user_id", msg.SenderID, "error", err)

		return
	}

	if outcome.Claim != nil && !outcome.Claim.Silent {
		h.reply(c, claimFrame(msg.ChatID, *outcome.Claim))
	}
}

func (h *Hub) reply(c *client, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := c.write(data, h.cfg.WriteTimeout); err != nil {
		h.leave(c)
	}
}

// Close disconnects every client and rejects further transport calls.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.rooms = make(map[int64]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		_ = c.close(h.cfg.WriteTimeout)
	}
}
