package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/pitchdeckflow/internal/gcp"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ObjectFetcher downloads an object, failing for anything over maxBytes.
type ObjectFetcher func(ctx context.Context, bucket, name string, maxBytes int64) ([]byte, error)

// StorageFetcher reads objects through a Cloud Storage client.
func StorageFetcher(client *storage.Client) ObjectFetcher {
	return func(ctx context.Context, bucket, name string, maxBytes int64) ([]byte, error) {
		return gcp.ReadObject(ctx, client.Bucket(bucket), name, maxBytes)
	}
}

// IngestFunction processes decks dropped into a bucket: upload, wait for the
// pipeline, archive the exports and hand off to the workflow.
type IngestFunction struct {
	fetch    ObjectFetcher
	service  *DeckService
	archiver *Archiver
	notifier Notifier
	maxBytes int64
}

// NewIngestFunction wires the function. archiver and notifier are optional.
func NewIngestFunction(fetch ObjectFetcher, service *DeckService, archiver *Archiver, notifier Notifier, maxBytes int64) *IngestFunction {
	return &IngestFunction{fetch: fetch, service: service, archiver: archiver, notifier: notifier, maxBytes: maxBytes}
}

// Process handles one event. Documents that fail validation or processing
// are recorded as failed and acknowledged; only infrastructure errors are
// returned so the event is redelivered.
func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if _, ok := models.ParseFormat(path.Ext(e.Name)); !ok {
		logCtx.Info("Object is not a pitch deck. Skipping.")
		return nil
	}

	data, err := f.fetch(ctx, e.Bucket, e.Name, f.maxBytes)
	if err != nil {
		logCtx.Error("Failed to download source deck", "error", err)
		return err
	}

	res, err := f.service.Upload(ctx, UploadRequest{Filename: path.Base(e.Name), Content: data})
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		logCtx.Warn("Deck rejected at ingestion.", "documentId", res.Document.ID, "error", verr)
		return f.notify(ctx, logCtx, res.Document, nil)
	}
	if err != nil {
		logCtx.Error("Failed to admit deck", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", res.Document.ID)
	logCtx.Info("Deck admitted.", "queuePosition", res.Admission.Position)

	if _, err := f.service.Await(ctx, res.Document.ID); err != nil {
		logCtx.Error("Stopped waiting for document", "error", err)
		return fmt.Errorf("failed waiting for document %s: %w", res.Document.ID, err)
	}
	view, err := f.service.Document(ctx, res.Document.ID)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", res.Document.ID, err)
	}

	var archived *ArchiveResult
	if view.Status == models.StatusCompleted && f.archiver != nil {
		archived, err = f.archiver.Archive(ctx, view.ID)
		if err != nil {
			return err
		}
	}
	if err := f.notify(ctx, logCtx, view.Document, archived); err != nil {
		return err
	}
	logCtx.Info("Hand-off complete.", "status", view.Status)
	return nil
}

func (f *IngestFunction) notify(ctx context.Context, logCtx *slog.Logger, doc models.Document, archived *ArchiveResult) error {
	if f.notifier == nil {
		return nil
	}
	c := Completion{
		DocumentID:        doc.ID,
		Status:            string(doc.Status),
		OverallConfidence: doc.OverallConfidence,
		CacheHit:          doc.CacheHit,
		ResultDocumentID:  doc.ResultDocumentID,
		ErrorDetails:      doc.ErrorDetails,
	}
	if archived != nil {
		c.JSONURI, c.CSVURI = archived.JSONURI, archived.CSVURI
	}
	if err := f.notifier.Notify(ctx, c); err != nil {
		logCtx.Error("Failed to notify downstream workflow", "error", err)
		return err
	}
	return nil
}
