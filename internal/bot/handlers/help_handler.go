package handlers

import (
	"context"
	"fmt"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) webmax.MessageHandler {
	return adapt(helpHandler{deps}.handle)
}

type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) handle(ctx context.Context, c messenger, msg *models.Message) error {
	h.deps.Logger.DebugContext(ctx, "Handling /help command", "handler", "help", "chat_id", msg.ChatID())

	if _, err := c.Reply(ctx, msg, h.deps.Config.Messages.Help); err != nil {
		return fmt.Errorf("send help message: %w", err)
	}
	return nil
}
