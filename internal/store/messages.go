package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pulse/messaging-app/internal/chat"
)

// AppendMessage persists a message and bumps the conversation's
// last_message_at in one transaction. The conversation row is locked first so
// that concurrent appends to the same conversation serialize: message id
// order and timestamp order then agree. A failed attempt may burn a sequence
// value but never reuses an id.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID int64, typ chat.MessageType, content, mediaKey string) (chat.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 FOR UPDATE)`,
		conversationID).Scan(&exists)
	if err != nil {
		return chat.Message{}, fmt.Errorf("store: lock conversation: %w", err)
	}
	if !exists {
		return chat.Message{}, chat.ErrNotFound
	}

	msg := chat.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           typ,
		Content:        content,
		MediaKey:       mediaKey,
	}

	// clock_timestamp() rather than now(): the row lock above serializes
	// appends, and the timestamp must reflect the post-lock instant for id
	// order and timestamp order to agree.
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, type, content, media_key, ts)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), clock_timestamp())
		 RETURNING id, ts`,
		conversationID, senderID, string(typ), content, mediaKey,
	).Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return chat.Message{}, fmt.Errorf("store: insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $2 WHERE id = $1`,
		conversationID, msg.Timestamp)
	if err != nil {
		return chat.Message{}, fmt.Errorf("store: touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("store: commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the conversation's full history ascending by id.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, type, content, COALESCE(media_key, ''), ts, is_read
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (chat.Message, error) {
	var m chat.Message
	var typ string
	err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &typ, &m.Content,
		&m.MediaKey, &m.Timestamp, &m.IsRead)
	m.Type = chat.MessageType(typ)
	return m, err
}
