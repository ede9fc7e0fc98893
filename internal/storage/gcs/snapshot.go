// Package gcs loads corpus snapshots from Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/storage/local"
)

// Config captures the object holding the exported corpus.
type Config struct {
	Bucket string
	Object string
}

// SnapshotSource reads a JSON corpus snapshot from a bucket.
type SnapshotSource struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot source.
func New(client *storage.Client, cfg Config) (*SnapshotSource, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &SnapshotSource{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// URI returns the gs:// location of the snapshot.
func (s *SnapshotSource) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Load downloads and decodes the snapshot.
func (s *SnapshotSource) Load(ctx context.Context) ([]inspiration.InspirationRecord, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.URI(), err)
	}
	records, err := local.DecodeSnapshot(reader)
	closeErr := reader.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close %s: %w", s.URI(), closeErr)
	}
	return records, nil
}
