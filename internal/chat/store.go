package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRole is returned when a message role is not one of
// user, assistant, or system.
var ErrInvalidRole = errors.New("role must be user|assistant|system")

// Message is one chat-history entry.
type Message struct {
	ID       string                 `json:"id"`
	Username string                 `json:"userId"`
	ChatID   string                 `json:"chatId,omitempty"`
	Role     string                 `json:"role"`
	Text     string                 `json:"text"`
	TS       time.Time              `json:"ts"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// Store persists chat history.
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save persists one message. Role is validated; ts zero means "now".
func (s *Store) Save(ctx context.Context, msg *Message) error {
	role := strings.ToLower(msg.Role)
	switch role {
	case "user", "assistant", "system":
	default:
		return ErrInvalidRole
	}

	ts := msg.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var metaJSON sql.NullString
	if msg.Meta != nil {
		raw, err := json.Marshal(msg.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode message meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, username, chat_id, role, text, ts, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, msg.Username, msg.ChatID, role, msg.Text, ts, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// History returns the newest limit messages for username, oldest first.
func (s *Store) History(ctx context.Context, username string, limit int) ([]*Message, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, ts FROM messages
		 WHERE username = ? ORDER BY ts DESC LIMIT ?`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{Username: username}
		if err := rows.Scan(&m.Role, &m.Text, &m.TS); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come back newest-first; clients expect chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
