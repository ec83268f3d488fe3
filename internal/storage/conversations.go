package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/finchat/internal/chat"
)

const maxTitleLen = 60

// CreateConversation registers a conversation. Creating an existing ID is a
// no-op.
func (s *Store) CreateConversation(id, title string) error {
	now := s.now().UnixNano()
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, truncateTitle(title), now, now,
	)
	if err != nil {
		return fmt.Errorf("creating conversation %s: %w", id, err)
	}
	return nil
}

// SaveMessage stores m at position seq of the conversation. The first user
// message becomes the title of an untitled conversation. Saving the same
// position twice keeps the first message.
func (s *Store) SaveMessage(conversationID string, seq int, m chat.Message) error {
	images := m.Images
	if images == nil {
		images = []chat.Image{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("encoding images: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	res, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, seq, role, content, images, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, seq) DO NOTHING`,
		conversationID, seq, string(m.Role), m.Content, string(imagesJSON), now,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if m.Role == chat.RoleUser {
		if _, err := tx.Exec(`UPDATE conversations SET title = ? WHERE id = ? AND title = ''`,
			truncateTitle(m.Content), conversationID); err != nil {
			return fmt.Errorf("setting title: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var created, updated int64
	err := s.db.QueryRow(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.Title, &created, &updated, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return c, nil
}

// ListConversations returns the most recently updated conversations first.
func (s *Store) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated, &c.MessageCount); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		c.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetMessages returns the conversation's messages in order.
func (s *Store) GetMessages(conversationID string) ([]chat.Message, error) {
	if _, err := s.GetConversation(conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT role, content, images FROM messages
		WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var role, imagesJSON string
		if err := rows.Scan(&role, &m.Content, &imagesJSON); err != nil {
			return nil, err
		}
		m.Role = chat.Role(role)
		if err := json.Unmarshal([]byte(imagesJSON), &m.Images); err != nil {
			return nil, fmt.Errorf("decoding images: %w", err)
		}
		if len(m.Images) == 0 {
			m.Images = nil
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages of %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func truncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxTitleLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxTitleLen-1]) + "…"
}
