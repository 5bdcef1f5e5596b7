package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/pitchdeckflow/internal/gcp"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// GCS stores one object per fingerprint. Writes carry a DoesNotExist
// precondition; a 412 means another writer got there first and its object is
// read back instead.
type GCS struct {
	bucket *storage.BucketHandle
	prefix string
	logger *slog.Logger
}

func NewGCS(bucket *storage.BucketHandle, prefix string, logger *slog.Logger) *GCS {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCS{bucket: bucket, prefix: prefix, logger: logger}
}

func (c *GCS) objectName(fingerprint string) string {
	return path.Join(c.prefix, fingerprint+".json")
}

func (c *GCS) Get(ctx context.Context, fingerprint string) (*models.ProcessingRecord, bool, error) {
	reader, err := c.bucket.Object(c.objectName(fingerprint)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open cache object: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache object: %w", err)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (c *GCS) Put(ctx context.Context, fingerprint string, rec *models.ProcessingRecord) (*models.ProcessingRecord, error) {
	data, err := encode(rec)
	if err != nil {
		return nil, err
	}
	name := c.objectName(fingerprint)
	written, err := gcp.SaveToGCSAtomically(ctx, c.bucket, name, data, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to write cache object: %w", err)
	}
	if !written {
		c.logger.Info("Cache entry already exists, adopting it.", "object", name)
	}
	winner, ok, err := c.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache object %s vanished after write", name)
	}
	return winner, nil
}

func (c *GCS) Invalidate(ctx context.Context, fingerprint string) error {
	err := c.bucket.Object(c.objectName(fingerprint)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete cache object: %w", err)
	}
	return nil
}
