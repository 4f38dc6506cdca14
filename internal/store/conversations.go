package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pulse/messaging-app/internal/chat"
)

// directKey builds the canonical "<min>:<max>" key for a non-group
// conversation between two users. The unordered pair always maps to the same
// key, so the UNIQUE constraint on conversations.direct_key enforces the
// one-direct-conversation-per-pair invariant.
func directKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

const conversationColumns = `id, is_group, COALESCE(name, ''), last_message_at, created_at`

func scanConversation(row interface{ Scan(...any) error }) (chat.Conversation, error) {
	var c chat.Conversation
	err := row.Scan(&c.ID, &c.IsGroup, &c.Name, &c.LastMessageAt, &c.CreatedAt)
	return c, err
}

// ResolveDirect returns the non-group conversation between the two users,
// creating it atomically when absent. If a concurrent resolve wins the
// insert race, the unique violation on direct_key is treated as "re-fetch
// and return the existing row".
func (s *Store) ResolveDirect(ctx context.Context, userA, userB int64) (chat.Conversation, bool, error) {
	key := directKey(userA, userB)

	conv, err := s.directByKey(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, false, fmt.Errorf("store: resolve direct: %w", err)
	}

	conv, err = s.createDirect(ctx, key, userA, userB)
	if err != nil {
		if isUniqueViolation(err) {
			conv, err = s.directByKey(ctx, key)
			if err != nil {
				return chat.Conversation{}, false, fmt.Errorf("store: refetch direct: %w", err)
			}
			return conv, false, nil
		}
		return chat.Conversation{}, false, err
	}
	return conv, true, nil
}

func (s *Store) directByKey(ctx context.Context, key string) (chat.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE direct_key = $1`, key)
	return scanConversation(row)
}

// createDirect inserts the conversation and both participants in one
// transaction. Either everything commits or nothing does.
func (s *Store) createDirect(ctx context.Context, key string, userA, userB int64) (chat.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`INSERT INTO conversations (is_group, direct_key) VALUES (FALSE, $1)
		 RETURNING `+conversationColumns, key)
	conv, err := scanConversation(row)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("store: create direct: %w", err)
	}

	for _, userID := range []int64{userA, userB} {
		if err := addParticipant(ctx, tx, conv.ID, userID); err != nil {
			return chat.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.Conversation{}, fmt.Errorf("store: commit direct: %w", err)
	}
	return conv, nil
}

// CreateGroup creates a group conversation with the creator and every member
// as participants. Partial failure rolls back the whole group. A member id
// appearing twice collapses to one participant row.
func (s *Store) CreateGroup(ctx context.Context, name string, creatorID int64, memberIDs []int64) (chat.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`INSERT INTO conversations (is_group, name) VALUES (TRUE, $1)
		 RETURNING `+conversationColumns, name)
	conv, err := scanConversation(row)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("store: create group: %w", err)
	}

	if err := addParticipant(ctx, tx, conv.ID, creatorID); err != nil {
		return chat.Conversation{}, err
	}
	for _, userID := range memberIDs {
		err := addParticipant(ctx, tx, conv.ID, userID)
		if errors.Is(err, chat.ErrDuplicateParticipant) {
			continue // creator listed among members, or a repeated id
		}
		if err != nil {
			return chat.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.Conversation{}, fmt.Errorf("store: commit group: %w", err)
	}
	return conv, nil
}

// addParticipant inserts a (conversation, user) membership row inside tx,
// mapping a unique violation to chat.ErrDuplicateParticipant.
func addParticipant(ctx context.Context, tx *sql.Tx, conversationID, userID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)`,
		conversationID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return chat.ErrDuplicateParticipant
		}
		return fmt.Errorf("store: add participant conv=%d user=%d: %w", conversationID, userID, err)
	}
	return nil
}

// ListConversations returns the user's conversations ordered by most recent
// activity.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.is_group, COALESCE(c.name, ''), c.last_message_at, c.created_at
		 FROM conversations c
		 JOIN participants p ON p.conversation_id = c.id
		 WHERE p.user_id = $1
		 ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	convs := []chat.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ConversationIDs returns the ids of every conversation the user belongs to.
func (s *Store) ConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: conversation ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("store: is participant: %w", err)
	}
	return ok, nil
}

// UpdateLastRead advances the participant's read marker to messageID if it is
// greater than the stored value. The conditional update makes the marker
// monotonic under concurrent calls.
func (s *Store) UpdateLastRead(ctx context.Context, conversationID, userID, messageID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants
		 SET last_read_message_id = $3
		 WHERE conversation_id = $1 AND user_id = $2
		   AND (last_read_message_id IS NULL OR last_read_message_id < $3)`,
		conversationID, userID, messageID)
	if err != nil {
		return false, fmt.Errorf("store: update last read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: update last read: %w", err)
	}
	return n > 0, nil
}
