package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
)

const callColumns = `id, conversation_id, caller_id, callee_id, type, status, started_at, ended_at, duration, created_at`

func scanCall(row interface{ Scan(...any) error }) (*domain.Call, error) {
	c := &domain.Call{}
	err := row.Scan(
		&c.ID, &c.ConversationID, &c.CallerID, &c.CalleeID, &c.Type,
		&c.Status, &c.StartedAt, &c.EndedAt, &c.Duration, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCall inserts a RINGING call, but only when the conversation has
// no other non-terminal call. The NOT EXISTS guard handles the common
// case; under READ COMMITTED two concurrent initiates can both pass it,
// so the partial unique index on calls(conversation_id) over
// RINGING/ACTIVE rows backs the invariant and the loser surfaces as
// domain.ErrCallInProgress either way.
func (s *Store) CreateCall(ctx context.Context, c *domain.Call) error {
	query := `
		INSERT INTO calls (id, conversation_id, caller_id, callee_id, type, status, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM calls
			WHERE conversation_id = $2 AND status IN ($6, $8)
		)`

	c.Status = domain.CallStatusRinging
	c.CreatedAt = time.Now().UTC()
	result, err := s.conn(ctx).Exec(ctx, query,
		c.ID, c.ConversationID, c.CallerID, c.CalleeID, c.Type,
		domain.CallStatusRinging, c.CreatedAt, domain.CallStatusActive)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrCallInProgress
		}
		return fmt.Errorf("create call: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCallInProgress
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, id string) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, WrapNotFound("get call", err)
	}
	return c, nil
}

// ActiveCall returns the conversation's non-terminal call, if any.
func (s *Store) ActiveCall(ctx context.Context, conversationID string) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE conversation_id = $1 AND status IN ($2, $3)
		LIMIT 1`

	c, err := scanCall(s.conn(ctx).QueryRow(ctx, query,
		conversationID, domain.CallStatusRinging, domain.CallStatusActive))
	if err != nil {
		return nil, WrapNotFound("active call", err)
	}
	return c, nil
}

// AcceptCall moves a RINGING call to ACTIVE. Returns false when the
// call was not ringing.
func (s *Store) AcceptCall(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE calls SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`

	result, err := s.conn(ctx).Exec(ctx, query,
		id, domain.CallStatusActive, time.Now().UTC(), domain.CallStatusRinging)
	if err != nil {
		return false, fmt.Errorf("accept call: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// FinishRinging moves a RINGING call to REJECTED or CANCELLED. Returns
// false when the call was not ringing.
func (s *Store) FinishRinging(ctx context.Context, id, status string) (bool, error) {
	query := `
		UPDATE calls SET status = $2, ended_at = $3
		WHERE id = $1 AND status = $4`

	result, err := s.conn(ctx).Exec(ctx, query,
		id, status, time.Now().UTC(), domain.CallStatusRinging)
	if err != nil {
		return false, fmt.Errorf("finish ringing: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// EndCall terminates any non-terminal call, computing duration from
// startedAt when the call went ACTIVE. Returns false when the call was
// already terminal.
func (s *Store) EndCall(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = $3,
		    duration = CASE WHEN started_at IS NULL THEN 0
		                    ELSE floor(extract(epoch FROM $3::timestamptz - started_at))::int END
		WHERE id = $1 AND status IN ($4, $5)`

	result, err := s.conn(ctx).Exec(ctx, query,
		id, domain.CallStatusEnded, time.Now().UTC(),
		domain.CallStatusRinging, domain.CallStatusActive)
	if err != nil {
		return false, fmt.Errorf("end call: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListCalls returns the user's call history, newest first.
func (s *Store) ListCalls(ctx context.Context, userID string, limit int) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("list calls scan: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
