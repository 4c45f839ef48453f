// Package handlers contains the maxbot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

// AdminOnly creates a middleware that checks if the message sender is the configured admin user.
// If not, it replies with the "not authorized" text and does not call the wrapped handler.
func AdminOnly(deps HandlerDeps) webmax.Middleware {
	return func(next webmax.MessageHandler) webmax.MessageHandler {
		return func(ctx context.Context, c *webmax.Client, msg *models.Message) error {
			if !allowAdmin(ctx, deps, c, msg) {
				return nil
			}
			return next(ctx, c, msg)
		}
	}
}

func allowAdmin(ctx context.Context, deps HandlerDeps, c messenger, msg *models.Message) bool {
	if deps.Config.IsAdmin(msg.Sender) {
		return true
	}

	log := deps.Logger.With("middleware", "AdminOnly")
	log.WarnContext(ctx, "Unauthorized access attempt", "user_id", msg.Sender, "chat_id", msg.ChatID())

	if _, err := c.Reply(ctx, msg, deps.Config.Messages.NotAuthorized); err != nil {
		log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", msg.ChatID())
	}
	return false
}
