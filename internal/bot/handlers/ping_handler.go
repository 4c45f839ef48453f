package handlers

import (
	"context"
	"fmt"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// NewPingHandler returns a handler for the /ping command. When
// bot.delete_ping is set the request is also deleted for the bot.
func NewPingHandler(deps HandlerDeps) webmax.MessageHandler {
	return adapt(pingHandler{deps}.handle)
}

type pingHandler struct {
	deps HandlerDeps
}

func (h pingHandler) handle(ctx context.Context, c messenger, msg *models.Message) error {
	log := h.deps.Logger.With("handler", "ping")

	if _, err := c.Reply(ctx, msg, h.deps.Config.Messages.Pong); err != nil {
		return fmt.Errorf("send pong: %w", err)
	}

	if !h.deps.Config.Bot.DeletePing {
		return nil
	}
	if err := c.Delete(ctx, msg, true); err != nil {
		log.WarnContext(ctx, "Failed to delete ping request", "error", err, "chat_id", msg.ChatID(), "message_id", msg.ID)
		return fmt.Errorf("delete ping request: %w", err)
	}
	return nil
}
