package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/filters"
	"github.com/edgard/webmax/internal/database"
	"github.com/edgard/webmax/internal/resilience"
	"github.com/edgard/webmax/models"
)

const dbSaveTimeout = 5 * time.Second

var errEmptyMessage = errors.New("message has no text")

// NewHistoryHandler returns a handler that stores every text message, so
// /ask can use the conversation as context.
func NewHistoryHandler(deps HandlerDeps) webmax.MessageHandler {
	return func(ctx context.Context, _ *webmax.Client, msg *models.Message) error {
		return saveMessage(ctx, deps, msg, "message")
	}
}

// HasText matches messages with non-blank text.
var HasText = filters.Func(func(_ filters.Identity, msg *models.Message) bool {
	return strings.TrimSpace(msg.Text) != ""
})

// saveMessage stores msg, retrying transient store failures.
func saveMessage(ctx context.Context, deps HandlerDeps, msg *models.Message, msgType string) error {
	log := deps.Logger.With("handler", "history")
	if strings.TrimSpace(msg.Text) == "" {
		return errEmptyMessage
	}

	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	record := &database.Message{
		ChatID:    msg.ChatID(),
		UserID:    msg.Sender,
		MessageID: string(msg.ID),
		Content:   msg.Text,
		Timestamp: ts,
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialInterval = 500 * time.Millisecond
	retry.OnRetry = func(attempt int, next time.Duration, err error) {
		log.WarnContext(ctx, "Failed to save "+msgType+", retrying",
			"error", err, "chat_id", record.ChatID, "attempt", attempt, "next", next)
	}

	err := resilience.WithRetry(ctx, func(ctx context.Context) error {
		dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
		defer cancel()
		return deps.Store.SaveMessage(dbCtx, record)
	}, retry)
	if err != nil {
		log.ErrorContext(ctx, "Failed to save "+msgType, "error", err, "chat_id", record.ChatID)
		return err
	}

	log.DebugContext(ctx, msgType+" saved", "db_message_id", record.ID, "chat_id", record.ChatID)
	return nil
}
