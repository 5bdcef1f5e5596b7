// Package app assembles the service from configuration. The local backend
// keeps everything in one SQLite file and uses the keyword collaborators; the
// gcp backend uses Firestore, Cloud Storage, Vertex AI and Workflows.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Lllllllleong/pitchdeckflow/internal/audit"
	"github.com/Lllllllleong/pitchdeckflow/internal/cache"
	"github.com/Lllllllleong/pitchdeckflow/internal/config"
	"github.com/Lllllllleong/pitchdeckflow/internal/gcp"
	"github.com/Lllllllleong/pitchdeckflow/internal/llm"
	"github.com/Lllllllleong/pitchdeckflow/internal/metrics"
	"github.com/Lllllllleong/pitchdeckflow/internal/output"
	"github.com/Lllllllleong/pitchdeckflow/internal/parse"
	"github.com/Lllllllleong/pitchdeckflow/internal/pipeline"
	"github.com/Lllllllleong/pitchdeckflow/internal/scheduler"
	"github.com/Lllllllleong/pitchdeckflow/internal/services"
	"github.com/Lllllllleong/pitchdeckflow/internal/sqlitedb"
	"github.com/Lllllllleong/pitchdeckflow/internal/store"
)

// App is a fully wired service.
type App struct {
	Config    *config.Config
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Audit     *audit.Writer
	Scheduler *scheduler.Scheduler
	Service   *services.DeckService
	// Ingest is only set for the gcp backend.
	Ingest *services.IngestFunction

	closers []func() error
}

type backend struct {
	store      store.DocumentStore
	cache      cache.Cache
	sink       audit.Sink
	classifier llm.Classifier
	extractor  llm.Extractor
	summarizer llm.Summarizer
	storage    *storage.Client
	notifier   services.Notifier
}

// New builds the service described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	var (
		b   *backend
		err error
	)
	switch cfg.Backend {
	case config.BackendGCP:
		b, err = a.gcpBackend(ctx, cfg)
	default:
		b, err = a.localBackend(cfg)
	}
	if err != nil {
		a.closeAll()
		return nil, err
	}

	logger := slog.Default().With("backend", cfg.Backend)
	a.Audit = audit.NewWriter(b.sink,
		audit.WithLogger(logger),
		audit.WithFallbackCapacity(cfg.AuditFallbackCapacity),
		audit.WithFallbackHook(a.Metrics.AuditFallback),
	)
	gen, err := output.NewGenerator(cfg.SystemVersion)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	coord, err := pipeline.New(pipeline.Deps{
		Parser:     parse.NewRouter(),
		Classifier: b.classifier,
		Extractor:  b.extractor,
		Summarizer: b.summarizer,
		Cache:      b.cache,
		Store:      b.store,
		Audit:      a.Audit,
		Output:     gen,
		Metrics:    a.Metrics,
		Logger:     logger,
	}, pipeline.FromConfig(cfg.Pipeline))
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.Scheduler = scheduler.New(coord, cfg.MaxConcurrentDocuments,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(a.Metrics),
		scheduler.WithRetention(cfg.FinishedRetention),
	)
	a.Service = services.NewDeckService(services.DeckServiceConfig{
		Store:     b.store,
		Cache:     b.cache,
		Audit:     a.Audit,
		Scheduler: a.Scheduler,
		Output:    gen,
		Metrics:   a.Metrics,
		Logger:    logger,
		MaxBytes:  cfg.MaxUploadBytes,
	})

	if b.storage != nil {
		var archiver *services.Archiver
		if cfg.ExportBucket != "" {
			archiver = services.NewArchiver(b.storage, cfg.ExportBucket, a.Service)
		}
		a.Ingest = services.NewIngestFunction(services.StorageFetcher(b.storage), a.Service, archiver, b.notifier, cfg.MaxUploadBytes)
	}
	logger.Info("Service assembled.",
		"maxConcurrentDocuments", cfg.MaxConcurrentDocuments,
		"systemVersion", cfg.SystemVersion,
	)
	return a, nil
}

func (a *App) localBackend(cfg *config.Config) (*backend, error) {
	db, err := sqlitedb.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return &backend{
		store:      store.NewSQLite(db),
		cache:      cache.NewSQLite(db),
		sink:       audit.NewSQLiteSink(db),
		classifier: llm.KeywordClassifier{},
		extractor:  llm.PatternExtractor{},
		summarizer: llm.ExtractiveSummarizer{},
	}, nil
}

func (a *App) gcpBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	fs, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, fs.Close)

	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	a.closers = append(a.closers, sc.Close)

	vc, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexRegion, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	a.closers = append(a.closers, vc.Close)

	// one limiter for all three models; they share the same quota
	limiter := llm.NewLimiter(cfg.LLMRequestsPerSecond, 1)
	b := &backend{
		store:      store.NewFirestore(fs, cfg.FirestoreCollection),
		sink:       audit.NewFirestoreSink(fs, cfg.AuditCollection),
		classifier: llm.NewVertexClassifier(llm.RateLimited(vc.ClassifierModel, limiter)),
		extractor:  llm.NewVertexExtractor(llm.RateLimited(vc.ExtractorModel, limiter)),
		summarizer: llm.NewVertexSummarizer(llm.RateLimited(vc.SummarizerModel, limiter)),
		storage:    sc,
	}
	if cfg.CacheBucket != "" {
		b.cache = cache.NewGCS(sc.Bucket(cfg.CacheBucket), cfg.CachePrefix, slog.Default())
	} else {
		slog.Warn("CACHE_BUCKET not set, idempotency cache is per instance.")
		b.cache = cache.NewMemory()
	}

	if cfg.WorkflowID != "" {
		ec, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create workflow executions client: %w", err)
		}
		a.closers = append(a.closers, ec.Close)
		b.notifier = services.NewWorkflowNotifier(ec, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
	}
	return b, nil
}

// Close drains the scheduler, replays buffered audit entries and releases
// the clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if a.Audit != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := a.Audit.Flush(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("audit flush: %w", err))
		}
		cancel()
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
