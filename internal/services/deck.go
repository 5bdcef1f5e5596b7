package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/audit"
	"github.com/Lllllllleong/pitchdeckflow/internal/cache"
	"github.com/Lllllllleong/pitchdeckflow/internal/confidence"
	"github.com/Lllllllleong/pitchdeckflow/internal/metrics"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/output"
	"github.com/Lllllllleong/pitchdeckflow/internal/parse"
	"github.com/Lllllllleong/pitchdeckflow/internal/pipeline"
	"github.com/Lllllllleong/pitchdeckflow/internal/scheduler"
	"github.com/Lllllllleong/pitchdeckflow/internal/store"
)

const (
	ExportJSON = "json"
	ExportCSV  = "csv"
)

// DeckService is the application surface shared by the HTTP API and the
// storage-event function.
type DeckService struct {
	store     store.DocumentStore
	cache     cache.Cache
	audit     *audit.Writer
	scheduler *scheduler.Scheduler
	output    *output.Generator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	maxBytes  int64
	newID     models.IDGenerator
	now       func() time.Time
}

type DeckServiceConfig struct {
	Store     store.DocumentStore
	Cache     cache.Cache
	Audit     *audit.Writer
	Scheduler *scheduler.Scheduler
	Output    *output.Generator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	MaxBytes  int64
	NewID     models.IDGenerator
	Now       func() time.Time
}

func NewDeckService(cfg DeckServiceConfig) *DeckService {
	s := &DeckService{
		store:     cfg.Store,
		cache:     cfg.Cache,
		audit:     cfg.Audit,
		scheduler: cfg.Scheduler,
		output:    cfg.Output,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		maxBytes:  cfg.MaxBytes,
		newID:     cfg.NewID,
		now:       cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxBytes <= 0 {
		s.maxBytes = parse.DefaultMaxBytes
	}
	if s.newID == nil {
		s.newID = models.NewID
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type UploadRequest struct {
	Filename string
	// Format is the declared format; the filename extension is used when it
	// is empty.
	Format  string
	Content []byte
}

type UploadResult struct {
	Document  models.Document     `json:"document"`
	Admission scheduler.Admission `json:"admission"`
}

// Upload validates and admits a document. A rejected upload still gets an
// id, a failed document record and an audit pair; the returned error is the
// *models.ValidationError.
func (s *DeckService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	id := s.newID()
	logCtx := s.logger.With("documentId", id, "filename", req.Filename)
	span := s.audit.Begin(ctx, id, models.StageUpload, "", 1)

	declared := req.Format
	if declared == "" {
		declared = filepath.Ext(req.Filename)
	}
	format, ok := models.ParseFormat(declared)
	if !ok {
		format = models.Format(strings.ToLower(strings.TrimPrefix(declared, ".")))
	}
	doc := models.Document{
		ID:          id,
		Filename:    req.Filename,
		Format:      format,
		SizeBytes:   int64(len(req.Content)),
		Fingerprint: pipeline.Fingerprint(req.Content),
		Status:      models.StatusQueued,
		QueuedAt:    s.now().UTC(),
	}

	if verr := parse.Validate(format, req.Content, s.maxBytes); verr != nil {
		doc.Fail(verr.Error(), doc.QueuedAt)
		if err := s.store.Create(ctx, doc); err != nil {
			logCtx.Error("Failed to record rejected upload.", "error", err)
		}
		span.End(verr)
		s.metrics.DocumentFinished(doc.Status, nil)
		logCtx.Warn("Upload rejected.", "error", verr)
		return &UploadResult{Document: doc}, verr
	}

	if err := s.store.Create(ctx, doc); err != nil {
		span.End(err)
		logCtx.Error("Failed to create document record.", "error", err)
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	adm, err := s.scheduler.Submit(scheduler.Task{Document: doc, Content: req.Content})
	if err != nil {
		doc.Fail(fmt.Sprintf("not admitted: %v", err), s.now().UTC())
		if uerr := s.store.Update(context.WithoutCancel(ctx), doc); uerr != nil {
			logCtx.Error("CRITICAL: Failed to update document status to failed after admission error.", "updateError", uerr)
		}
		span.End(err)
		return nil, fmt.Errorf("failed to admit document: %w", err)
	}
	span.End(nil)
	logCtx.Info("Upload accepted.", "format", doc.Format, "sizeBytes", doc.SizeBytes, "queuePosition", adm.Position)
	return &UploadResult{Document: doc, Admission: adm}, nil
}

// DocumentView is a document with its live queue position and confidence
// badge.
type DocumentView struct {
	models.Document
	QueuePosition      int    `json:"queuePosition"`
	ConfidenceCategory string `json:"confidenceCategory,omitempty"`
}

func (s *DeckService) Document(ctx context.Context, id string) (*DocumentView, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(*doc), nil
}

func (s *DeckService) view(doc models.Document) *DocumentView {
	v := &DocumentView{Document: doc}
	if _, pos, ok := s.scheduler.Status(doc.ID); ok {
		v.QueuePosition = pos
	}
	if doc.OverallConfidence != nil {
		v.ConfidenceCategory = string(confidence.Categorize(*doc.OverallConfidence))
	}
	return v
}

func (s *DeckService) List(ctx context.Context, limit int) ([]DocumentView, error) {
	docs, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, *s.view(d))
	}
	return out, nil
}

// Result returns the processing record behind a completed document.
func (s *DeckService) Result(ctx context.Context, id string) (*models.ProcessingRecord, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusCompleted {
		return nil, fmt.Errorf("document %s is %s: %w", id, doc.Status, models.ErrResultUnavailable)
	}
	rec, ok, err := s.cache.Get(ctx, doc.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to read result for %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("result for %s is no longer cached: %w", id, models.ErrResultUnavailable)
	}
	return rec, nil
}

// Export renders a completed document's result as validated JSON or CSV.
func (s *DeckService) Export(ctx context.Context, id, format string) ([]byte, string, error) {
	format = strings.ToLower(format)
	if format == "" {
		format = ExportJSON
	}
	if format != ExportJSON && format != ExportCSV {
		return nil, "", models.NewValidationError("format", fmt.Sprintf("unsupported export format %q, expected json or csv", format))
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, "", err
	}

	span := s.audit.Begin(ctx, id, models.StageExport, format, 1)
	data, contentType, err := s.render(ctx, id, format)
	span.End(err)
	s.metrics.Export(format, err)
	if err != nil {
		var sv *models.SchemaViolation
		if errors.As(err, &sv) {
			s.logger.Error("Export failed schema validation.", "documentId", id, "format", format, "error", err)
		}
		return nil, "", err
	}
	return data, contentType, nil
}

func (s *DeckService) render(ctx context.Context, id, format string) ([]byte, string, error) {
	rec, err := s.Result(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if format == ExportCSV {
		data, err := s.output.ToCSV(rec)
		return data, "text/csv; charset=utf-8", err
	}
	data, err := s.output.ToJSON(rec)
	return data, "application/json", err
}

// Cancel asks the scheduler to stop a queued or running document.
func (s *DeckService) Cancel(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status.Terminal() {
		return scheduler.ErrFinished
	}
	return s.scheduler.Cancel(id)
}

func (s *DeckService) Audit(ctx context.Context, id string) ([]models.AuditEntry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.Entries(ctx, id)
}

// InvalidateCache drops the cached result for a fingerprint so the next
// upload of that content is processed again.
func (s *DeckService) InvalidateCache(ctx context.Context, fingerprint string) error {
	if err := s.cache.Invalidate(ctx, fingerprint); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	s.logger.Info("Cache entry invalidated.", "fingerprint", fingerprint)
	return nil
}

// Await blocks until an admitted document reaches a terminal state.
func (s *DeckService) Await(ctx context.Context, id string) (scheduler.Outcome, error) {
	return s.scheduler.Await(ctx, id)
}

func (s *DeckService) Stats() scheduler.Stats { return s.scheduler.Stats() }
