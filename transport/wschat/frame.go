package wschat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arloliu/spawn/types"
)

// Frame types.
const (
	frameSpawn   = "spawn"
	frameCaption = "caption"
	framePin     = "pin"
	frameResult  = "claim_result"
	frameError   = "error"

	frameMessage = "message"
	frameClaim   = "claim"
)

// frame is a server-to-client message.
type frame struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`
	Caption   string `json:"caption,omitempty"`

	Accepted   bool   `json:"accepted,omitempty"`
	Reason     string `json:"reason,omitempty"`
	EntityName string `json:"entity_name,omitempty"`
	ClaimedBy  int64  `json:"claimed_by,omitempty"`

	Error string `json:"error,omitempty"`
}

// clientFrame is a client-to-server message.
type clientFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Guess   string `json:"guess,omitempty"`
	ReplyTo int64  `json:"reply_to,omitempty"`
}

func claimFrame(chatID int64, r types.ClaimResult) frame {
	f := frame{Type: frameResult, ChatID: chatID, Accepted: r.Accepted, Reason: r.Reason.String()}

	switch {
	case r.Accepted && r.Drop != nil:
		f.MessageID = r.Drop.MessageID
		f.EntityName = r.Drop.DisplayName
	case r.Drop != nil:
		// Points the claimant at the drop that is still live.
		f.MessageID = r.Drop.MessageID
	case r.LastClaim != nil:
		f.MessageID = r.LastClaim.MessageID
		f.EntityName = r.LastClaim.DisplayName
		f.ClaimedBy = r.LastClaim.ClaimantID
	}

	return f
}

type client struct {
	conn    *websocket.Conn
	chatID  int64
	userID  int64
	private bool

	writeMu sync.Mutex
}

// write sends one text frame. gorilla connections allow a single concurrent writer.
func (c *client) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) close(timeout time.Duration) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	c.writeMu.Unlock()

	return c.conn.Close()
}
