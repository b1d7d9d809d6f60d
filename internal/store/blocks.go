package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

func (s *Store) CreateBlock(ctx context.Context, blockerID, blockedID string) error {
	query := `
		INSERT INTO blocks (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`

	_, err := s.conn(ctx).Exec(ctx, query, blockerID, blockedID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

func (s *Store) DeleteBlock(ctx context.Context, blockerID, blockedID string) error {
	query := `DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IsBlockedEither reports whether either user has blocked the other.
func (s *Store) IsBlockedEither(ctx context.Context, a, b string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)`

	var blocked bool
	if err := s.conn(ctx).QueryRow(ctx, query, a, b).Scan(&blocked); err != nil {
		return false, fmt.Errorf("is blocked: %w", err)
	}
	return blocked, nil
}

func (s *Store) ListBlockedUsers(ctx context.Context, blockerID string) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id IN (SELECT blocked_id FROM blocks WHERE blocker_id = $1)
		ORDER BY name ASC`

	rows, err := s.conn(ctx).Query(ctx, query, blockerID)
	if err != nil {
		return nil, fmt.Errorf("list blocked users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list blocked users scan: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
