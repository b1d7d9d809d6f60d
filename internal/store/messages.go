package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

const messageColumns = `id, conversation_id, sender_id, type, content, status, reply_to_id, is_edited, is_deleted, deleted_at, token_count, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content, &m.Status,
		&m.ReplyToID, &m.IsEdited, &m.IsDeleted, &m.DeletedAt, &m.TokenCount, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.Status == "" {
		m.Status = domain.MessageStatusSent
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, type, content, status, reply_to_id, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.conn(ctx).Exec(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Type, m.Content, m.Status,
		m.ReplyToID, m.TokenCount, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND NOT is_deleted`
	m, err := scanMessage(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, WrapNotFound("get message", err)
	}
	return m, nil
}

// UpdateMessageContent applies an edit and marks the row edited.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) error {
	query := `UPDATE messages SET content = $2, is_edited = true WHERE id = $1 AND NOT is_deleted`
	result, err := s.conn(ctx).Exec(ctx, query, id, content)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDeleteMessage blanks the content; the row stays for ordering.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	query := `
		UPDATE messages
		SET is_deleted = true, deleted_at = $2, content = ''
		WHERE id = $1 AND NOT is_deleted`

	result, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteMessagesAfter soft-deletes every message created after the
// given instant; used for the AI chat edit cascade. Returns the ids of
// the deleted rows.
func (s *Store) DeleteMessagesAfter(ctx context.Context, conversationID string, after time.Time) ([]string, error) {
	query := `
		UPDATE messages
		SET is_deleted = true, deleted_at = $3, content = ''
		WHERE conversation_id = $1 AND created_at > $2 AND NOT is_deleted
		RETURNING id`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, after, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("delete messages after: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("delete messages after scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMessages pages backwards through history. cursor is a message id;
// empty means the newest page. Results come back oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID, cursor string, limit int) ([]*domain.Message, error) {
	var query string
	var args []any
	if cursor == "" {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1
			  AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`
		args = []any{conversationID, cursor, limit}
	}

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the index, oldest-first for the caller.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListContextMessages returns the last `limit` non-deleted TEXT and
// AI_RESPONSE messages, oldest first. Feeds the model context window.
func (s *Store) ListContextMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1
			  AND NOT is_deleted
			  AND type IN ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.conn(ctx).Query(ctx, query,
		conversationID, domain.MessageText, domain.MessageAIResponse, limit)
	if err != nil {
		return nil, fmt.Errorf("list context messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list context messages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestAIResponse returns the most recent live AI_RESPONSE message.
func (s *Store) LatestAIResponse(ctx context.Context, conversationID string) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND type = $2 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	m, err := scanMessage(s.conn(ctx).QueryRow(ctx, query, conversationID, domain.MessageAIResponse))
	if err != nil {
		return nil, WrapNotFound("latest ai response", err)
	}
	return m, nil
}

// LatestTextBySender returns the sender's most recent live TEXT message.
func (s *Store) LatestTextBySender(ctx context.Context, conversationID, senderID string) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND sender_id = $2 AND type = $3 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	m, err := scanMessage(s.conn(ctx).QueryRow(ctx, query, conversationID, senderID, domain.MessageText))
	if err != nil {
		return nil, WrapNotFound("latest text by sender", err)
	}
	return m, nil
}
