package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

func (s *Store) AddMember(ctx context.Context, m *domain.Member) error {
	query := `
		INSERT INTO members (conversation_id, user_id, role, is_pinned, is_muted, joined_at)
		VALUES ($1, $2, $3, false, false, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`

	m.JoinedAt = time.Now().UTC()
	_, err := s.conn(ctx).Exec(ctx, query, m.ConversationID, m.UserID, m.Role, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, conversationID, userID string) (*domain.Member, error) {
	query := `
		SELECT m.conversation_id, m.user_id, m.role, m.is_pinned, m.is_muted, m.last_read_at, m.joined_at, u.name
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.conversation_id = $1 AND m.user_id = $2`

	m := &domain.Member{}
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(
		&m.ConversationID, &m.UserID, &m.Role, &m.IsPinned, &m.IsMuted,
		&m.LastReadAt, &m.JoinedAt, &m.UserName)
	if err != nil {
		return nil, WrapNotFound("get member", err)
	}
	return m, nil
}

// IsMember is the membership gate used by every realtime handler.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM members WHERE conversation_id = $1 AND user_id = $2)`
	var ok bool
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return ok, nil
}

func (s *Store) ListMembers(ctx context.Context, conversationID string) ([]*domain.Member, error) {
	query := `
		SELECT m.conversation_id, m.user_id, m.role, m.is_pinned, m.is_muted, m.last_read_at, m.joined_at, u.name
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.conversation_id = $1
		ORDER BY m.joined_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*domain.Member
	for rows.Next() {
		m := &domain.Member{}
		err := rows.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.IsPinned,
			&m.IsMuted, &m.LastReadAt, &m.JoinedAt, &m.UserName)
		if err != nil {
			return nil, fmt.Errorf("list members scan: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) error {
	query := `DELETE FROM members WHERE conversation_id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateMemberRole(ctx context.Context, conversationID, userID, role string) error {
	query := `UPDATE members SET role = $3 WHERE conversation_id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SetMemberPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	query := `UPDATE members SET is_pinned = $3 WHERE conversation_id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, pinned)
	if err != nil {
		return fmt.Errorf("set member pinned: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkConversationRead stamps the member's lastReadAt and flips every
// message not authored by userID to READ. Returns the stamp so callers
// can broadcast it.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	now := time.Now().UTC()
	err := s.WithTx(ctx, func(ctx context.Context) error {
		result, err := s.conn(ctx).Exec(ctx,
			`UPDATE members SET last_read_at = $3 WHERE conversation_id = $1 AND user_id = $2`,
			conversationID, userID, now)
		if err != nil {
			return fmt.Errorf("mark read member: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		_, err = s.conn(ctx).Exec(ctx,
			`UPDATE messages
			 SET status = $3
			 WHERE conversation_id = $1
			   AND (sender_id IS NULL OR sender_id != $2)
			   AND status != $3`,
			conversationID, userID, domain.MessageStatusRead)
		if err != nil {
			return fmt.Errorf("mark read messages: %w", err)
		}
		return nil
	})
	return now, err
}
