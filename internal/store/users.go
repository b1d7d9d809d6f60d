package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

const userColumns = `id, email, name, avatar_url, bio, status_text, password_hash, online, last_seen_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.Bio, &u.StatusText,
		&u.PasswordHash, &u.Online, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user. Email uniqueness is case-insensitive;
// collisions surface as domain.ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, avatar_url, bio, status_text, password_hash, online, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, false, $8, $8)`

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.conn(ctx).Exec(ctx, query,
		u.ID, u.Email, u.Name, u.AvatarURL, u.Bio, u.StatusText, u.PasswordHash, now)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, WrapNotFound("get user", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, email))
	if err != nil {
		return nil, WrapNotFound("get user by email", err)
	}
	return u, nil
}

// UpdateUserProfile updates the caller-editable profile fields.
func (s *Store) UpdateUserProfile(ctx context.Context, u *domain.User) error {
	query := `
		UPDATE users
		SET name = $2, avatar_url = $3, bio = $4, status_text = $5, updated_at = $6
		WHERE id = $1`

	result, err := s.conn(ctx).Exec(ctx, query,
		u.ID, u.Name, u.AvatarURL, u.Bio, u.StatusText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetUserOnline flips the online flag; lastSeenAt is only written on
// the offline edge.
func (s *Store) SetUserOnline(ctx context.Context, id string, online bool) error {
	var query string
	if online {
		query = `UPDATE users SET online = true, updated_at = $2 WHERE id = $1`
	} else {
		query = `UPDATE users SET online = false, last_seen_at = $2, updated_at = $2 WHERE id = $1`
	}
	_, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	return nil
}

// SearchUsers matches name or email prefix, excluding the caller and
// anyone in a block relation with the caller, in either direction.
func (s *Store) SearchUsers(ctx context.Context, callerID, q string, limit int) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.id != $1
		  AND (u.name ILIKE $2 || '%' OR u.email LIKE lower($2) || '%')
		  AND NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.blocker_id = $1 AND b.blocked_id = u.id)
			   OR (b.blocker_id = u.id AND b.blocked_id = $1)
		  )
		ORDER BY u.name ASC
		LIMIT $3`

	rows, err := s.conn(ctx).Query(ctx, query, callerID, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("search users scan: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
