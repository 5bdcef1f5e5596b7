package audit

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// FirestoreSink stores each entry as its own document keyed by entry id.
type FirestoreSink struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreSink(client *firestore.Client, collection string) *FirestoreSink {
	return &FirestoreSink{client: client, collection: collection}
}

func (s *FirestoreSink) Append(ctx context.Context, e models.AuditEntry) error {
	if _, err := s.client.Collection(s.collection).Doc(e.ID).Create(ctx, e); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (s *FirestoreSink) List(ctx context.Context, documentID string) ([]models.AuditEntry, error) {
	it := s.client.Collection(s.collection).Where("documentId", "==", documentID).Documents(ctx)
	defer it.Stop()

	var out []models.AuditEntry
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list audit entries: %w", err)
		}
		var e models.AuditEntry
		if err := snap.DataTo(&e); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %s: %w", snap.Ref.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
