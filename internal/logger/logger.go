// Package logger provides structured logging for maxbot.
// It uses Go's slog package with configurable levels and formats.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// ParseLevel maps a config level name to a slog level. Unknown names
// yield info.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a slog Logger on stdout with the specified level and
// format and installs it as the default logger.
// If jsonOutput is true, logs are formatted as JSON, otherwise as text.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := New(os.Stdout, levelStr, jsonOutput)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger writing to w without touching the default logger.
func New(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
	}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Middleware logs every message before and after its handler runs.
func Middleware(log *slog.Logger) webmax.Middleware {
	return func(next webmax.MessageHandler) webmax.MessageHandler {
		return func(ctx context.Context, c *webmax.Client, msg *models.Message) error {
			startTime := time.Now()

			logEntry := log.With(
				"message_id", msg.ID,
				"chat_id", msg.ChatID(),
				"user_id", msg.Sender,
				"text_preview", truncateString(msg.Text, 50),
			)
			if msg.IsReply() {
				logEntry = logEntry.With("reply_to", msg.Link.MessageID)
			}
			if len(msg.Attachments) > 0 {
				logEntry = logEntry.With("attachments", len(msg.Attachments))
			}

			logEntry.DebugContext(ctx, "Processing message")

			err := next(ctx, c, msg)

			duration := time.Since(startTime)
			if err != nil {
				logEntry.WarnContext(ctx, "Handler failed", "duration", duration, "error", err)
				return err
			}
			logEntry.InfoContext(ctx, "Finished processing message", "duration", duration)
			return nil
		}
	}
}

// truncateString shortens s to maxLen runes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
