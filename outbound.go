package webmax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/protocol"
	"github.com/edgard/webmax/models"
)

type sendOptions struct {
	replyTo models.MessageID
	notify  bool
}

// SendOption adjusts SendMessage.
type SendOption func(*sendOptions)

// ReplyTo makes the message a reply to id.
func ReplyTo(id models.MessageID) SendOption {
	return func(o *sendOptions) { o.replyTo = id }
}

// Notify controls whether chat members are notified. The default is true.
func Notify(notify bool) SendOption {
	return func(o *sendOptions) { o.notify = notify }
}

func (c *Client) requireLogin(op string) error {
	if c.session.User() == nil {
		return fmt.Errorf("%s: %w", op, errs.ErrNotAuthenticated)
	}
	return nil
}

// SendMessage sends text to chatID and returns the message as stored by
// the service.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts ...SendOption) (*models.Message, error) {
	if err := c.requireLogin("send message"); err != nil {
		return nil, err
	}

	o := sendOptions{notify: true}
	for _, opt := range opts {
		opt(&o)
	}

	req := protocol.SendMessageRequest{
		ChatID: chatID,
		Message: protocol.OutgoingMessage{
			Text:     text,
			CID:      time.Now().UnixMilli(),
			Elements: []any{},
			Attaches: []any{},
		},
		Notify: o.notify,
	}
	if o.replyTo != "" {
		req.Message.Link = &protocol.OutgoingLink{Type: string(models.LinkReply), MessageID: string(o.replyTo)}
	}

	resp, err := c.session.Request(ctx, protocol.OpSendMessage, req)
	if err != nil {
		return nil, err
	}
	return decodeMessage(resp, chatID)
}

// EditMessage replaces the text of a message and returns the edited
// message.
func (c *Client) EditMessage(ctx context.Context, chatID int64, id models.MessageID, text string) (*models.Message, error) {
	if err := c.requireLogin("edit message"); err != nil {
		return nil, err
	}

	resp, err := c.session.Request(ctx, protocol.OpEditMsg, protocol.EditMessageRequest{
		ChatID:      chatID,
		MessageID:   string(id),
		Text:        text,
		Elements:    []any{},
		Attachments: []any{},
	})
	if err != nil {
		return nil, err
	}
	return decodeMessage(resp, chatID)
}

// DeleteMessages deletes messages in chatID. With forMe the messages are
// only hidden for this account.
func (c *Client) DeleteMessages(ctx context.Context, chatID int64, ids []models.MessageID, forMe bool) error {
	if err := c.requireLogin("delete messages"); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := c.session.Request(ctx, protocol.OpDeleteMsg, protocol.DeleteMessageRequest{
		ChatID:     chatID,
		MessageIDs: lo.Map(ids, func(id models.MessageID, _ int) string { return string(id) }),
		ForMe:      forMe,
	})
	return err
}

// Reply sends text to msg's chat as a reply to msg.
func (c *Client) Reply(ctx context.Context, msg *models.Message, text string, opts ...SendOption) (*models.Message, error) {
	if msg == nil {
		return nil, errors.New("reply: nil message")
	}
	return c.SendMessage(ctx, msg.ChatID(), text, append([]SendOption{ReplyTo(msg.ID)}, opts...)...)
}

// Answer sends text to msg's chat without quoting msg.
func (c *Client) Answer(ctx context.Context, msg *models.Message, text string, opts ...SendOption) (*models.Message, error) {
	if msg == nil {
		return nil, errors.New("answer: nil message")
	}
	return c.SendMessage(ctx, msg.ChatID(), text, opts...)
}

// Edit replaces the text of msg.
func (c *Client) Edit(ctx context.Context, msg *models.Message, text string) (*models.Message, error) {
	if msg == nil {
		return nil, errors.New("edit: nil message")
	}
	return c.EditMessage(ctx, msg.ChatID(), msg.ID, text)
}

// Delete deletes msg.
func (c *Client) Delete(ctx context.Context, msg *models.Message, forMe bool) error {
	if msg == nil {
		return errors.New("delete: nil message")
	}
	return c.DeleteMessages(ctx, msg.ChatID(), []models.MessageID{msg.ID}, forMe)
}

// PinChat pins chatID to the top of the chat list.
func (c *Client) PinChat(ctx context.Context, chatID int64) error {
	return c.setFavIndex(ctx, chatID, time.Now().UnixMilli())
}

// UnpinChat removes chatID from the pinned chats.
func (c *Client) UnpinChat(ctx context.Context, chatID int64) error {
	return c.setFavIndex(ctx, chatID, 0)
}

func (c *Client) setFavIndex(ctx context.Context, chatID, favIndex int64) error {
	if err := c.requireLogin("update chat settings"); err != nil {
		return err
	}
	_, err := c.session.Request(ctx, protocol.OpSettings, protocol.NewChatFavRequest(chatID, favIndex))
	return err
}

// UserQuery selects a user for GetUser. The first non-zero field wins, in
// the order ID, Phone, ChatID. ChatID resolves the peer of a one-to-one
// dialog.
type UserQuery struct {
	ID     int64
	Phone  string
	ChatID int64
}

// GetUser looks up a user profile. An unknown user yields an error
// matching errs.ErrUserNotFound.
func (c *Client) GetUser(ctx context.Context, q UserQuery) (*models.User, error) {
	if err := c.requireLogin("get user"); err != nil {
		return nil, err
	}

	switch {
	case q.ID != 0:
		return c.userByID(ctx, q.ID)
	case q.Phone != "":
		return c.userByPhone(ctx, q.Phone)
	case q.ChatID != 0:
		peer, err := dialogPeer(c.session.User(), q.ChatID)
		if err != nil {
			return nil, err
		}
		return c.userByID(ctx, peer)
	default:
		return nil, errors.New("get user: empty query")
	}
}

// dialogPeer returns the other participant of a one-to-one dialog. Dialog
// ids are the XOR of both user ids.
func dialogPeer(me *models.User, chatID int64) (int64, error) {
	if me == nil || me.ID() == 0 {
		return 0, fmt.Errorf("get user: %w", errs.ErrNotAuthenticated)
	}
	return me.ID() ^ chatID, nil
}

// GetUsers looks up several profiles by id. Unknown ids are omitted.
func (c *Client) GetUsers(ctx context.Context, ids ...int64) ([]*models.User, error) {
	if err := c.requireLogin("get users"); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	resp, err := c.session.Request(ctx, protocol.OpContacts, protocol.ContactsRequest{ContactIDs: lo.Uniq(ids)})
	if err != nil {
		return nil, err
	}
	var payload protocol.ContactsResponse
	if err := resp.Unmarshal(&payload); err != nil {
		return nil, errs.NewProtocolError("contacts response", err)
	}
	return lo.Map(payload.Contacts, func(wc protocol.WireContact, _ int) *models.User {
		return wc.ToUser()
	}), nil
}

func (c *Client) userByID(ctx context.Context, id int64) (*models.User, error) {
	users, err := c.GetUsers(ctx, id)
	if err != nil {
		return nil, err
	}
	user, ok := lo.Find(users, func(u *models.User) bool { return u.ID() == id })
	if !ok {
		return nil, &errs.APIError{Reason: errs.ErrUserNotFound.Error()}
	}
	return user, nil
}

func (c *Client) userByPhone(ctx context.Context, phone string) (*models.User, error) {
	resp, err := c.session.Request(ctx, protocol.OpContactPhone, protocol.ContactByPhoneRequest{Phone: phone})
	if err != nil {
		return nil, err
	}
	var payload protocol.ContactByPhoneResponse
	if err := resp.Unmarshal(&payload); err != nil {
		return nil, errs.NewProtocolError("contact response", err)
	}
	if payload.Contact == nil {
		return nil, &errs.APIError{Reason: errs.ErrUserNotFound.Error()}
	}
	user := payload.Contact.ToUser()
	if user.Contact.Phone == "" {
		user.Contact.Phone = phone
	}
	return user, nil
}

func decodeMessage(resp *protocol.Frame, chatID int64) (*models.Message, error) {
	var env protocol.MessageEnvelope
	if err := resp.Unmarshal(&env); err != nil {
		return nil, errs.NewProtocolError(resp.Opcode.String()+" response", err)
	}
	return env.ToModel(chatID)
}
