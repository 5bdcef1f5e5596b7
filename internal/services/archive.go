package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/pitchdeckflow/internal/gcp"
)

// Archiver copies a completed document's JSON and CSV exports to a bucket.
type Archiver struct {
	bucket     *storage.BucketHandle
	bucketName string
	service    *DeckService
}

type ArchiveResult struct {
	JSONURI string `json:"jsonUri"`
	CSVURI  string `json:"csvUri"`
}

func NewArchiver(client *storage.Client, bucketName string, service *DeckService) *Archiver {
	return &Archiver{bucket: client.Bucket(bucketName), bucketName: bucketName, service: service}
}

// Archive writes <documentId>/result.json and <documentId>/result.csv. Objects
// are never overwritten, so a redelivered event leaves the first archive in
// place.
func (a *Archiver) Archive(ctx context.Context, documentID string) (*ArchiveResult, error) {
	logCtx := slog.With("documentId", documentID, "bucket", a.bucketName)
	logCtx.Info("Archiving exports.")

	uris := map[string]string{}
	for _, format := range []string{ExportJSON, ExportCSV} {
		data, contentType, err := a.service.Export(ctx, documentID, format)
		if err != nil {
			logCtx.Error("Failed to export result for archiving", "format", format, "error", err)
			return nil, fmt.Errorf("failed to export %s: %w", format, err)
		}
		object := fmt.Sprintf("%s/result.%s", documentID, format)
		if _, err := gcp.SaveToGCSAtomically(ctx, a.bucket, object, data, contentType); err != nil {
			return nil, fmt.Errorf("failed to archive %s: %w", object, err)
		}
		uris[format] = fmt.Sprintf("gs://%s/%s", a.bucketName, object)
	}

	logCtx.Info("Archive complete.")
	return &ArchiveResult{JSONURI: uris[ExportJSON], CSVURI: uris[ExportCSV]}, nil
}
