// Package upload stores message attachments in an object bucket.
package upload

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/ripplechat/ripple/internal/id"
)

type Store struct {
	client *storage.Client
	bucket string
}

// New dials object storage using ambient credentials. An empty bucket
// name means uploads are disabled.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Put streams src into a freshly named object and returns its public URL.
func (s *Store) Put(ctx context.Context, fileName, contentType string, src io.Reader) (string, error) {
	object := id.NewUpload() + path.Ext(fileName)

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, object), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
