// Package logging provides types.Logger implementations.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/arloliu/spawn/types"
)

// SlogLogger implements types.Logger on top of log/slog.
type SlogLogger struct {
	logger *slog.Logger
}

var _ types.Logger = (*SlogLogger)(nil)

// NewSlog wraps an existing slog.Logger.
//
// Parameters:
//   - logger: Underlying slog logger
//
// Returns:
//   - *SlogLogger: Adapter satisfying types.Logger
//
// Example:
//
//	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
//	logger := logging.NewSlog(slog.New(handler))
//	logger.Info("engine started", "chats", 12)
func NewSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogDefault wraps slog.Default().
func NewSlogDefault() *SlogLogger {
	return &SlogLogger{logger: slog.Default()}
}

// NewSlogJSON builds a JSON logger writing to w at the given level.
//
// Parameters:
//   - w: Output writer (os.Stdout when nil)
//   - level: Minimum level name ("debug", "info", "warn", "error")
//
// Returns:
//   - *SlogLogger: Logger emitting one JSON object per line
func NewSlogJSON(w io.Writer, level string) *SlogLogger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})

	return &SlogLogger{logger: slog.New(handler)}
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds keysAndValues to every record.
//
// Used to scope a logger to a component, e.g. With("component", "governor").
func (l *SlogLogger) With(keysAndValues ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(keysAndValues...)}
}

// Debug logs at debug level.
func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

// Info logs at info level.
func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

// Warn logs at warn level.
func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

// Error logs at error level.
func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

// Fatal logs at error level, since slog has no fatal level, then exits.
func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
	os.Exit(1) //nolint:revive // Fatal should exit the program
}
