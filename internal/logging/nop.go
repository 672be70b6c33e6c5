package logging

import "github.com/arloliu/spawn/types"

// NopLogger discards every message.
//
// Example:
//
//	eng, err := spawn.NewEngine(&cfg, deps, spawn.WithLogger(logging.NewNop()))
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop returns a logger that discards all messages.
func NewNop() *NopLogger {
	return &NopLogger{}
}

// Debug discards the message.
func (n *NopLogger) Debug(_ string, _ ...any) {}

// Info discards the message.
func (n *NopLogger) Info(_ string, _ ...any) {}

// Warn discards the message.
func (n *NopLogger) Warn(_ string, _ ...any) {}

// Error discards the message.
func (n *NopLogger) Error(_ string, _ ...any) {}

// Fatal discards the message and does not exit.
func (n *NopLogger) Fatal(_ string, _ ...any) {}
