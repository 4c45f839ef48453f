package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveSession inserts or replaces the session stored for session.Phone.
	SaveSession(ctx context.Context, session *Session) error

	// GetSession returns the session stored for phone, or nil, nil if none.
	GetSession(ctx context.Context, phone string) (*Session, error)

	// DeleteSession removes the session stored for phone. Deleting a
	// missing session is not an error.
	DeleteSession(ctx context.Context, phone string) error

	// SaveMessage stores a chat message. A message already stored under the
	// same chat and Max message id is ignored.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessagesInChat returns up to limit of the newest messages of
	// a chat, oldest first.
	GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]*Message, error)

	// DeleteMessagesBefore removes messages older than cutoff and returns
	// how many were removed.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteChatMessages removes the stored history of one chat.
	DeleteChatMessages(ctx context.Context, chatID int64) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

const maxHistoryLimit = 500

// sqlxStore implements Store using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by a connected sqlx.DB.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) SaveSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}
	if session.Phone == "" {
		return errors.New("session must have a phone")
	}
	if session.Token == "" {
		return errors.New("session must have a token")
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `
		INSERT INTO sessions (phone, token, user_id, device_id, created_at, updated_at)
		VALUES (:phone, :token, :user_id, :device_id, :created_at, :updated_at)
		ON CONFLICT (phone) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			device_id = excluded.device_id,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save session", "user_id", session.UserID, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.DebugContext(ctx, "Session saved", "user_id", session.UserID)
	return nil
}

func (s *sqlxStore) GetSession(ctx context.Context, phone string) (*Session, error) {
	if phone == "" {
		return nil, errors.New("phone cannot be empty")
	}

	var session Session
	err := s.db.GetContext(ctx, &session, `
		SELECT id, phone, token, user_id, device_id, created_at, updated_at
		FROM sessions
		WHERE phone = ?
	`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load session", "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *sqlxStore) DeleteSession(ctx context.Context, phone string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE phone = ?`, phone)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete session", "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.InfoContext(ctx, "Session deleted", "rows_affected", n)
	return nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return errors.New("cannot save nil message")
	}
	if message.ChatID == 0 {
		return errors.New("message must have a non-zero chat_id")
	}
	if message.MessageID == "" {
		return errors.New("message must have a message_id")
	}
	if message.Timestamp.IsZero() {
		return errors.New("message must have a non-zero timestamp")
	}

	message.CreatedAt = time.Now().UTC()
	message.Timestamp = message.Timestamp.UTC()

	query := `
		INSERT INTO messages (chat_id, user_id, message_id, content, timestamp, created_at)
		VALUES (:chat_id, :user_id, :message_id, :content, :timestamp, :created_at)
		ON CONFLICT (chat_id, message_id) DO NOTHING
	`
	res, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save message",
			"chat_id", message.ChatID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to save message: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil && id > 0 {
		message.ID = uint(id)
	}
	return nil
}

func (s *sqlxStore) GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	if chatID == 0 {
		return nil, errors.New("chat_id cannot be zero")
	}
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxHistoryLimit {
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "chat_id", chatID, "capped_limit", maxHistoryLimit)
		limit = maxHistoryLimit
	}

	var messages []*Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT id, chat_id, user_id, message_id, content, timestamp, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "chat_id", chatID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for chat %d: %w", chatID, err)
	}

	return lo.Reverse(messages), nil
}

func (s *sqlxStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete old messages", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to delete messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return n, nil
}

func (s *sqlxStore) DeleteChatMessages(ctx context.Context, chatID int64) (int64, error) {
	if chatID == 0 {
		return 0, errors.New("chat_id cannot be zero")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete chat history", "chat_id", chatID, "error", err)
		return 0, fmt.Errorf("failed to delete messages of chat %d: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	s.logger.InfoContext(ctx, "Chat history deleted", "chat_id", chatID, "rows_affected", n)
	return n, nil
}

// RunSQLMaintenance executes VACUUM on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM cannot run inside a transaction.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
