package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/pitchdeckflow/internal/api"
	"github.com/Lllllllleong/pitchdeckflow/internal/app"
	"github.com/Lllllllleong/pitchdeckflow/internal/config"
)

var (
	handler http.Handler
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleDecks", handleDecks)
}

func main() {}

func setup() (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return api.NewRouter(a.Service, a.Registry, cfg.MaxUploadBytes, slog.Default()), nil
}

// handleDecks serves the document API from a function instance.
func handleDecks(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		handler, initErr = setup()
	})
	if initErr != nil {
		slog.Error("Critical: deck service initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
