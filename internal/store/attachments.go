package store

import (
	"context"
	"fmt"

	"github.com/ripplechat/ripple/internal/domain"
)

func (s *Store) CreateAttachment(ctx context.Context, a *domain.Attachment) error {
	query := `
		INSERT INTO attachments (id, message_id, file_url, file_name, file_size, mime_type, thumbnail_url, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.conn(ctx).Exec(ctx, query,
		a.ID, a.MessageID, a.FileURL, a.FileName, a.FileSize,
		a.MimeType, a.ThumbnailURL, a.Width, a.Height)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	query := `
		SELECT id, message_id, file_url, file_name, file_size, mime_type, thumbnail_url, width, height
		FROM attachments
		WHERE message_id = $1
		ORDER BY id ASC`

	rows, err := s.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var atts []*domain.Attachment
	for rows.Next() {
		a := &domain.Attachment{}
		err := rows.Scan(&a.ID, &a.MessageID, &a.FileURL, &a.FileName,
			&a.FileSize, &a.MimeType, &a.ThumbnailURL, &a.Width, &a.Height)
		if err != nil {
			return nil, fmt.Errorf("list attachments scan: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
