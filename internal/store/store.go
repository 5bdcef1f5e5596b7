// Package store persists document records. The pipeline coordinator is the
// only writer after a document has been created.
package store

import (
	"context"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 100

type DocumentStore interface {
	// Create fails with models.ErrDuplicate if the id is taken.
	Create(ctx context.Context, doc models.Document) error
	// Get fails with models.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.Document, error)
	// Update overwrites the mutable fields of an existing document.
	Update(ctx context.Context, doc models.Document) error
	// List returns the most recently queued documents first.
	List(ctx context.Context, limit int) ([]models.Document, error)
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
