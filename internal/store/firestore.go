package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Firestore stores one Firestore document per upload, keyed by its id.
type Firestore struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	return &Firestore{client: client, collection: collection}
}

func (s *Firestore) Create(ctx context.Context, doc models.Document) error {
	_, err := s.client.Collection(s.collection).Doc(doc.ID).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return models.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create master document: %w", err)
	}
	return nil
}

func (s *Firestore) Get(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// Update writes only the fields the coordinator changes, so it fails for a
// document that was never created.
func (s *Firestore) Update(ctx context.Context, doc models.Document) error {
	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "contentFingerprint", Value: doc.Fingerprint},
		{Path: "overallConfidence", Value: doc.OverallConfidence},
		{Path: "errorDetails", Value: doc.ErrorDetails},
		{Path: "cacheHit", Value: doc.CacheHit},
		{Path: "resultDocumentId", Value: doc.ResultDocumentID},
		{Path: "startedAt", Value: doc.StartedAt},
		{Path: "completedAt", Value: doc.CompletedAt},
	}
	_, err := s.client.Collection(s.collection).Doc(doc.ID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Firestore) List(ctx context.Context, limit int) ([]models.Document, error) {
	it := s.client.Collection(s.collection).OrderBy("queuedAt", firestore.Desc).Limit(listLimit(limit)).Documents(ctx)
	defer it.Stop()
	out := []models.Document{}
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc)
	}
	return out, nil
}
