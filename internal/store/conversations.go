package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

const conversationColumns = `id, type, title, group_name, description, system_prompt, created_by_id, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(
		&c.ID, &c.Type, &c.Title, &c.GroupName, &c.Description,
		&c.SystemPrompt, &c.CreatedByID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, type, title, group_name, description, system_prompt, created_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.conn(ctx).Exec(ctx, query,
		c.ID, c.Type, c.Title, c.GroupName, c.Description, c.SystemPrompt, c.CreatedByID, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	c, err := scanConversation(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, WrapNotFound("get conversation", err)
	}
	return c, nil
}

// GetConversationForMember fetches the conversation only if userID has
// a member row. No row means not found either way.
func (s *Store) GetConversationForMember(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumnsPrefixed("c") + `
		FROM conversations c
		JOIN members m ON m.conversation_id = c.id AND m.user_id = $2
		WHERE c.id = $1`

	c, err := scanConversation(s.conn(ctx).QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, WrapNotFound("get conversation for member", err)
	}
	return c, nil
}

func conversationColumnsPrefixed(alias string) string {
	return alias + ".id, " + alias + ".type, " + alias + ".title, " + alias + ".group_name, " +
		alias + ".description, " + alias + ".system_prompt, " + alias + ".created_by_id, " +
		alias + ".created_at, " + alias + ".updated_at"
}

// FindDirectConversation returns the existing DIRECT conversation
// between the unordered pair, if any.
func (s *Store) FindDirectConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumnsPrefixed("c") + `
		FROM conversations c
		JOIN members ma ON ma.conversation_id = c.id AND ma.user_id = $1
		JOIN members mb ON mb.conversation_id = c.id AND mb.user_id = $2
		WHERE c.type = $3
		LIMIT 1`

	c, err := scanConversation(s.conn(ctx).QueryRow(ctx, query, userA, userB, domain.ConversationDirect))
	if err != nil {
		return nil, WrapNotFound("find direct conversation", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, pinned first,
// most recently active next.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumnsPrefixed("c") + `
		FROM conversations c
		JOIN members m ON m.conversation_id = c.id
		WHERE m.user_id = $1
		ORDER BY m.is_pinned DESC, c.updated_at DESC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("list conversations scan: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Store) UpdateConversation(ctx context.Context, c *domain.Conversation) error {
	query := `
		UPDATE conversations
		SET title = $2, group_name = $3, description = $4, system_prompt = $5, updated_at = $6
		WHERE id = $1`

	result, err := s.conn(ctx).Exec(ctx, query,
		c.ID, c.Title, c.GroupName, c.Description, c.SystemPrompt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TouchConversation advances updatedAt; called on every new message.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	query := `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	_, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	query := `DELETE FROM conversations WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
