package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
	"github.com/edgard/webmax/internal/gemini"
	"github.com/edgard/webmax/models"
)

// HandlerDeps provides dependencies for Max command handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        database.Store
	GeminiClient gemini.Client
}

// messenger is the part of *webmax.Client the handlers talk to.
type messenger interface {
	Reply(ctx context.Context, msg *models.Message, text string, opts ...webmax.SendOption) (*models.Message, error)
	Delete(ctx context.Context, msg *models.Message, forMe bool) error
	Me() *models.User
	Logout(ctx context.Context) error
}

var _ messenger = (*webmax.Client)(nil)

type handleFunc func(ctx context.Context, c messenger, msg *models.Message) error

// adapt turns a handler written against messenger into a webmax handler.
func adapt(h handleFunc) webmax.MessageHandler {
	return func(ctx context.Context, c *webmax.Client, msg *models.Message) error {
		return h(ctx, c, msg)
	}
}
