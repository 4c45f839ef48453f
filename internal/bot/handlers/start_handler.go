package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) webmax.MessageHandler {
	return adapt(startHandler{deps}.handle)
}

// startHandler processes the /start command using injected dependencies.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) handle(ctx context.Context, c messenger, msg *models.Message) error {
	log := h.deps.Logger.With("handler", "start")
	log.InfoContext(ctx, "Handling /start command", "chat_id", msg.ChatID(), "user_id", msg.Sender)

	welcome := h.deps.Config.Messages.Welcome
	if me := c.Me(); me != nil {
		if name := me.Contact.DisplayName(); name != "" {
			welcome = strings.ReplaceAll(welcome, "@botname", name)
		}
	}

	if _, err := c.Reply(ctx, msg, welcome); err != nil {
		return fmt.Errorf("send welcome message: %w", err)
	}
	log.DebugContext(ctx, "Successfully sent welcome message", "chat_id", msg.ChatID())
	return nil
}
