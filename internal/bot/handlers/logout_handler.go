package handlers

import (
	"context"
	"fmt"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// NewLogoutHandler returns a handler for the admin /logout command. It
// terminates the session token, forgets the stored credentials and stops
// the bot.
func NewLogoutHandler(deps HandlerDeps) webmax.MessageHandler {
	return adapt(logoutHandler{deps}.handle)
}

type logoutHandler struct {
	deps HandlerDeps
}

func (h logoutHandler) handle(ctx context.Context, c messenger, msg *models.Message) error {
	log := h.deps.Logger.With("handler", "logout")
	log.WarnContext(ctx, "Admin requested logout", "chat_id", msg.ChatID(), "user_id", msg.Sender)

	if _, err := c.Reply(ctx, msg, h.deps.Config.Messages.LoggedOut); err != nil {
		log.ErrorContext(ctx, "Failed to send goodbye message", "error", err, "chat_id", msg.ChatID())
	}

	if phone := h.deps.Config.Max.Phone; phone != "" {
		if err := h.deps.Store.DeleteSession(ctx, phone); err != nil {
			log.ErrorContext(ctx, "Failed to delete stored session", "error", err)
		}
	}

	if err := c.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
