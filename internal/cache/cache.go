// Package cache maps content fingerprints to completed processing records so
// identical uploads are never processed twice.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Cache is safe for concurrent use. Put is first-writer-wins: when an entry
// already exists it is left untouched and returned, so every caller converges
// on the same record.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*models.ProcessingRecord, bool, error)
	Put(ctx context.Context, fingerprint string, rec *models.ProcessingRecord) (*models.ProcessingRecord, error)
	Invalidate(ctx context.Context, fingerprint string) error
}

func encode(rec *models.ProcessingRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("refusing to cache a nil record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*models.ProcessingRecord, error) {
	var rec models.ProcessingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached record: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}
