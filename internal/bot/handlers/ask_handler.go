package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/models"
)

const aiProcessingTimeout = 2 * time.Minute

// NewAskHandler returns a handler for the /ask command. It answers the
// question with Gemini, using the stored chat history as context.
func NewAskHandler(deps HandlerDeps) webmax.MessageHandler {
	return adapt(askHandler{deps}.handle)
}

type askHandler struct {
	deps HandlerDeps
}

func (h askHandler) handle(ctx context.Context, c messenger, msg *models.Message) error {
	deps := h.deps
	log := deps.Logger.With("handler", "ask")
	chatID := msg.ChatID()

	if deps.GeminiClient == nil {
		_, err := c.Reply(ctx, msg, deps.Config.Messages.AskDisabled)
		return err
	}

	question := commandPayload(msg.Text)
	if question == "" {
		_, err := c.Reply(ctx, msg, deps.Config.Messages.ProvideQuestion)
		return err
	}

	history, err := deps.Store.GetRecentMessagesInChat(ctx, chatID, deps.Config.Bot.HistoryLimit)
	if err != nil {
		// Answer without context rather than not at all.
		log.WarnContext(ctx, "Failed to load chat history", "error", err, "chat_id", chatID)
		history = nil
	}

	me := c.Me()
	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()
	answer, err := deps.GeminiClient.GenerateReply(aiCtx, history, question, me.ID(), displayName(me))
	if err != nil {
		if _, sendErr := c.Reply(ctx, msg, deps.Config.Messages.GeneralError); sendErr != nil {
			log.ErrorContext(ctx, "Failed to send AI error message", "error", sendErr, "chat_id", chatID)
		}
		return fmt.Errorf("generate reply: %w", err)
	}

	sent, err := c.Reply(ctx, msg, answer)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	log.InfoContext(ctx, "Sent reply", "chat_id", chatID, "message_id", sent.ID)

	if me.ID() == 0 {
		log.WarnContext(ctx, "Unknown bot id, skipping saving bot reply", "chat_id", chatID)
		return nil
	}
	saveMessage(ctx, deps, &models.Message{
		Chat:   sent.Chat,
		Sender: me.ID(),
		ID:     sent.ID,
		Time:   sent.Time,
		Text:   answer,
	}, "bot reply")
	return nil
}

// commandPayload returns the text after the leading command token.
func commandPayload(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}

func displayName(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.Contact.DisplayName()
}
