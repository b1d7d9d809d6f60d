package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

// ToggleReaction inserts the (message, user, emoji) tuple, or removes
// it when it already exists. Returns true when the reaction now exists.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	del := `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`
	result, err := s.conn(ctx).Exec(ctx, del, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("toggle reaction delete: %w", err)
	}
	if result.RowsAffected() > 0 {
		return false, nil
	}

	ins := `INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.conn(ctx).Exec(ctx, ins, messageID, userID, emoji, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("toggle reaction insert: %w", err)
	}
	return true, nil
}

func (s *Store) ListReactions(ctx context.Context, messageID string) ([]*domain.Reaction, error) {
	query := `
		SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var reactions []*domain.Reaction
	for rows.Next() {
		r := &domain.Reaction{}
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("list reactions scan: %w", err)
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
