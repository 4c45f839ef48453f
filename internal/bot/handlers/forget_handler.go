package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// NewForgetHandler returns a handler for the admin /forget command, which
// deletes the stored history of the current chat.
func NewForgetHandler(deps HandlerDeps) webmax.MessageHandler {
	return adapt(forgetHandler{deps}.handle)
}

type forgetHandler struct {
	deps HandlerDeps
}

func (h forgetHandler) handle(ctx context.Context, c messenger, msg *models.Message) error {
	log := h.deps.Logger.With("handler", "forget")
	chatID := msg.ChatID()
	log.InfoContext(ctx, "Admin requested chat history reset", "chat_id", chatID, "user_id", msg.Sender)

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := h.deps.Store.DeleteChatMessages(timeoutCtx, chatID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.WarnContext(ctx, "History reset timed out", "chat_id", chatID)
		}
		if _, sendErr := c.Reply(ctx, msg, h.deps.Config.Messages.GeneralError); sendErr != nil {
			log.ErrorContext(ctx, "Failed to send error message", "error", sendErr, "chat_id", chatID)
		}
		return fmt.Errorf("delete chat history: %w", err)
	}

	log.InfoContext(ctx, "Chat history reset", "chat_id", chatID, "deleted", n)
	_, err = c.Reply(ctx, msg, h.deps.Config.Messages.HistoryCleared)
	return err
}
