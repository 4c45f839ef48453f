package database

import "time"

// Session is a stored Max login token for one account, keyed by phone.
type Session struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Phone    string `db:"phone"`
	Token    string `db:"token"`
	UserID   int64  `db:"user_id"`
	DeviceID string `db:"device_id"`
}

// Message is a chat message kept as context for /ask.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	MessageID string    `db:"message_id"` // id assigned by Max
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
}
