// Package models contains the read-only value objects handed to handlers:
// messages, chats and user profiles as reported by the Max service.
package models

import (
	"strconv"
	"time"
)

// MessageID identifies a message inside a chat. The service sends it as a
// decimal string or number; it is always kept in its string form.
type MessageID string

// Int64 returns the numeric form of the id, or 0 if it is not numeric.
func (id MessageID) Int64() int64 {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// LinkType distinguishes replies from forwards.
type LinkType string

const (
	LinkReply   LinkType = "REPLY"
	LinkForward LinkType = "FORWARD"
)

// Link references another message (the one replied to or forwarded).
type Link struct {
	Type      LinkType
	ChatID    int64
	MessageID MessageID
}

// Attachment is an opaque attachment descriptor. Only the type tag is
// interpreted; the rest is kept as decoded.
type Attachment struct {
	Type   string
	Fields map[string]any
}

// Chat is a lightweight reference to a chat.
type Chat struct {
	ID int64
}

// MessageTypeUser is the type tag of messages written by people, as opposed
// to channel posts and service notices.
const MessageTypeUser = "USER"

// Message is an inbound or sent message. It is never modified after the
// decoder builds it.
type Message struct {
	Chat        Chat
	Sender      int64
	ID          MessageID
	CID         int64
	Time        time.Time
	UpdateTime  time.Time
	Text        string
	Type        string
	Attachments []Attachment
	Options     map[string]any
	Link        *Link
}

// ChatID is shorthand for m.Chat.ID.
func (m *Message) ChatID() int64 {
	return m.Chat.ID
}

// IsReply reports whether the message replies to another message.
func (m *Message) IsReply() bool {
	return m.Link != nil && m.Link.Type == LinkReply
}

// Name is one of a contact's display names.
type Name struct {
	Name      string
	FirstName string
	LastName  string
	Type      string
}

// Contact is a profile record.
type Contact struct {
	ID            int64
	AccountStatus int
	BaseURL       string
	BaseRawURL    string
	Names         []Name
	Phone         string
	Description   string
	Options       []string
	PhotoID       int64
	UpdateTime    time.Time
}

// DisplayName returns the first non-empty name, or the phone number.
func (c Contact) DisplayName() string {
	for _, n := range c.Names {
		if n.Name != "" {
			return n.Name
		}
		if n.FirstName != "" || n.LastName != "" {
			if n.LastName == "" {
				return n.FirstName
			}
			return n.FirstName + " " + n.LastName
		}
	}
	return c.Phone
}

// User wraps a contact profile.
type User struct {
	Contact Contact
}

// ID is shorthand for u.Contact.ID.
func (u *User) ID() int64 {
	if u == nil {
		return 0
	}
	return u.Contact.ID
}
