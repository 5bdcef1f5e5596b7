package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/pitchdeckflow/internal/app"
	"github.com/Lllllllleong/pitchdeckflow/internal/config"
	"github.com/Lllllllleong/pitchdeckflow/internal/services"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IngestDeck", ingestDeck)
}

func main() {}

func setup() (*services.IngestFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Backend = config.BackendGCP
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if a.Ingest == nil {
		return nil, fmt.Errorf("storage-event ingestion requires the gcp backend")
	}
	return a.Ingest, nil
}

// ingestDeck is the Cloud Function entry point for object-finalized events.
func ingestDeck(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = setup()
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return ingestInstance.Process(ctx, gcsEvent)
}
