// Package pipeline runs one document through parse, classify, extract,
// summarize, score and format, consulting the idempotency cache and writing
// the audit trail along the way.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Lllllllleong/pitchdeckflow/internal/audit"
	"github.com/Lllllllleong/pitchdeckflow/internal/cache"
	"github.com/Lllllllleong/pitchdeckflow/internal/confidence"
	"github.com/Lllllllleong/pitchdeckflow/internal/config"
	"github.com/Lllllllleong/pitchdeckflow/internal/llm"
	"github.com/Lllllllleong/pitchdeckflow/internal/metrics"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/output"
	"github.com/Lllllllleong/pitchdeckflow/internal/parse"
	"github.com/Lllllllleong/pitchdeckflow/internal/store"
)

type Config struct {
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	ExtractConcurrency int
	Timeouts           map[models.Stage]time.Duration
}

// DefaultTimeout applies to stages without an explicit timeout.
const DefaultTimeout = 60 * time.Second

func DefaultConfig() Config {
	return FromConfig(config.Default().Pipeline)
}

// FromConfig converts the loaded pipeline settings.
func FromConfig(p config.Pipeline) Config {
	return Config{
		MaxAttempts:        p.MaxAttempts,
		InitialBackoff:     p.InitialBackoff,
		MaxBackoff:         p.MaxBackoff,
		ExtractConcurrency: p.ExtractConcurrency,
		Timeouts: map[models.Stage]time.Duration{
			models.StageParse:     p.Timeouts.Parse,
			models.StageClassify:  p.Timeouts.Classify,
			models.StageExtract:   p.Timeouts.Extract,
			models.StageSummarize: p.Timeouts.Summarize,
			models.StageScore:     p.Timeouts.Score,
			models.StageFormat:    p.Timeouts.Format,
		},
	}
}

func (c Config) timeout(stage models.Stage) time.Duration {
	if d, ok := c.Timeouts[stage]; ok && d > 0 {
		return d
	}
	return DefaultTimeout
}

// Deps are the coordinator's collaborators. Metrics and Logger are optional.
type Deps struct {
	Parser     parse.Parser
	Classifier llm.Classifier
	Extractor  llm.Extractor
	Summarizer llm.Summarizer
	Cache      cache.Cache
	Store      store.DocumentStore
	Audit      *audit.Writer
	Output     *output.Generator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Option func(*Coordinator)

// WithClock replaces the clock used for document and record timestamps.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

func WithWeights(w confidence.Weights) Option { return func(c *Coordinator) { c.weights = w } }

type Coordinator struct {
	parser     parse.Parser
	classifier llm.Classifier
	extractor  llm.Extractor
	summarizer llm.Summarizer
	cache      cache.Cache
	store      store.DocumentStore
	audit      *audit.Writer
	output     *output.Generator
	metrics    *metrics.Metrics
	logger     *slog.Logger

	cfg     Config
	weights confidence.Weights
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	flights singleflight.Group
}

func New(deps Deps, cfg Config, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Parser == nil:
		return nil, fmt.Errorf("pipeline: parser is required")
	case deps.Classifier == nil || deps.Extractor == nil || deps.Summarizer == nil:
		return nil, fmt.Errorf("pipeline: classifier, extractor and summarizer are required")
	case deps.Cache == nil || deps.Store == nil:
		return nil, fmt.Errorf("pipeline: cache and store are required")
	case deps.Audit == nil || deps.Output == nil:
		return nil, fmt.Errorf("pipeline: audit writer and output generator are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExtractConcurrency <= 0 {
		cfg.ExtractConcurrency = 1
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		parser:     deps.Parser,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		summarizer: deps.Summarizer,
		cache:      deps.Cache,
		store:      deps.Store,
		audit:      deps.Audit,
		output:     deps.Output,
		metrics:    deps.Metrics,
		logger:     logger,
		cfg:        cfg,
		weights:    confidence.DefaultWeights(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Job is one admitted document. Cancelled is polled between stages.
type Job struct {
	Document  models.Document
	Content   []byte
	Cancelled func() bool
}

func (j Job) cancelled() bool {
	return j.Cancelled != nil && j.Cancelled()
}

// Fingerprint is the hex SHA-256 of the raw upload.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Process runs the job to a terminal state and persists it. Unrecoverable
// failures and cancellation return a *models.PipelineError carrying the
// partial record. Any other error means the document could not be persisted;
// it is still marked failed if the store allows.
func (c *Coordinator) Process(ctx context.Context, job Job) (*models.ProcessingRecord, error) {
	doc := job.Document
	if doc.Fingerprint == "" {
		doc.Fingerprint = Fingerprint(job.Content)
	}
	logCtx := c.logger.With("documentId", doc.ID, "fingerprint", doc.Fingerprint)

	rec, err := c.process(ctx, logCtx, job, doc)
	var pe *models.PipelineError
	if err != nil && !errors.As(err, &pe) {
		c.markFailed(ctx, logCtx, doc, "internal error while persisting the document")
	}
	return rec, err
}

func (c *Coordinator) process(ctx context.Context, logCtx *slog.Logger, job Job, doc models.Document) (*models.ProcessingRecord, error) {
	if job.cancelled() {
		rec := models.NewProcessingRecord(doc)
		return nil, c.abort(ctx, logCtx, rec, models.StageParse, models.ErrCancelled)
	}

	started := c.now().UTC()
	doc.Status = models.StatusProcessing
	doc.StartedAt = &started
	if err := c.store.Update(ctx, doc); err != nil {
		logCtx.Error("Failed to mark document as processing.", "error", err)
		return nil, fmt.Errorf("failed to mark document %s as processing: %w", doc.ID, err)
	}
	logCtx.Info("Processing document.", "format", doc.Format, "sizeBytes", doc.SizeBytes)

	cached, hit, cacheErr := c.cache.Get(ctx, doc.Fingerprint)
	if cacheErr != nil {
		logCtx.Warn("Idempotency cache unavailable, processing without it.", "error", cacheErr)
	} else {
		c.metrics.CacheLookup(hit)
	}
	if hit {
		logCtx.Info("Identical content already processed. Returning cached result.", "resultDocumentId", cached.Document.ID)
		return c.adopt(ctx, logCtx, doc, cached)
	}

	led := false
	v, err, _ := c.flights.Do(doc.Fingerprint, func() (any, error) {
		led = true
		return c.run(ctx, logCtx, job, doc, cacheErr)
	})
	if led {
		if err != nil {
			return nil, err
		}
		return v.(*models.ProcessingRecord), nil
	}

	// Another document with the same content was already in flight.
	if err == nil {
		rec := v.(*models.ProcessingRecord)
		logCtx.Info("Adopted the result of a concurrent run on identical content.", "resultDocumentId", rec.Document.ID)
		return c.adopt(ctx, logCtx, doc, rec)
	}
	if errors.Is(err, models.ErrCancelled) && !job.cancelled() {
		return c.run(ctx, logCtx, job, doc, cacheErr)
	}
	var pe *models.PipelineError
	if errors.As(err, &pe) {
		rec := models.NewProcessingRecord(doc)
		return nil, c.abort(ctx, logCtx, rec, pe.Stage, pe.Cause)
	}
	return nil, err
}

// adopt completes doc with a result produced by another document's run.
func (c *Coordinator) adopt(ctx context.Context, logCtx *slog.Logger, doc models.Document, rec *models.ProcessingRecord) (*models.ProcessingRecord, error) {
	doc.CacheHit = true
	doc.ResultDocumentID = rec.Document.ID
	doc.Complete(rec.OverallConfidence, c.now().UTC())
	if err := c.store.Update(context.WithoutCancel(ctx), doc); err != nil {
		logCtx.Error("Failed to persist completed document.", "error", err)
		return nil, fmt.Errorf("failed to persist document %s: %w", doc.ID, err)
	}
	c.metrics.DocumentFinished(doc.Status, doc.OverallConfidence)
	return rec, nil
}

type step struct {
	stage models.Stage
	run   func(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord, job Job) error
}

func (c *Coordinator) run(ctx context.Context, logCtx *slog.Logger, job Job, doc models.Document, cacheErr error) (*models.ProcessingRecord, error) {
	rec := models.NewProcessingRecord(doc)
	rec.Document.ResultDocumentID = doc.ID
	if cacheErr != nil {
		rec.Warn(models.StageParse, models.WarnCacheUnavailable, "idempotency cache unavailable; result was computed without it")
	}

	steps := []step{
		{models.StageParse, c.parseStage},
		{models.StageClassify, c.classifyStage},
		{models.StageExtract, c.extractStage},
		{models.StageSummarize, c.summarizeStage},
		{models.StageScore, c.scoreStage},
		{models.StageFormat, c.formatStage},
	}
	for _, s := range steps {
		if job.cancelled() {
			return nil, c.abort(ctx, logCtx, rec, s.stage, models.ErrCancelled)
		}
		if err := ctx.Err(); err != nil {
			return nil, c.abort(ctx, logCtx, rec, s.stage, fmt.Errorf("%w: %v", models.ErrCancelled, err))
		}
		if err := s.run(ctx, logCtx, rec, job); err != nil {
			return nil, c.abort(ctx, logCtx, rec, s.stage, err)
		}
	}

	result := rec
	winner, err := c.storeResult(ctx, logCtx, rec)
	if err != nil {
		return nil, c.abort(ctx, logCtx, rec, models.StageFormat, err)
	}
	if winner != nil && winner.Document.ID != rec.Document.ID {
		logCtx.Info("Another run stored this content first. Adopting its result.", "resultDocumentId", winner.Document.ID)
		result = winner
	}

	final := rec.Document
	if result != rec {
		final.CacheHit = true
		final.ResultDocumentID = result.Document.ID
		final.Complete(result.OverallConfidence, *final.CompletedAt)
	}
	if err := c.store.Update(context.WithoutCancel(ctx), final); err != nil {
		logCtx.Error("Failed to persist completed document.", "error", err)
		return nil, fmt.Errorf("failed to persist document %s: %w", final.ID, err)
	}
	c.metrics.DocumentFinished(final.Status, final.OverallConfidence)
	logCtx.Info("Document processed.",
		"overallConfidence", result.OverallConfidence,
		"sections", len(result.Sections),
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// storeResult puts rec in the cache, retrying with the stage backoff. Export
// reads results from the cache, so a document whose result cannot be stored
// must not complete.
func (c *Coordinator) storeResult(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord) (*models.ProcessingRecord, error) {
	var err error
	for n := 1; n <= c.cfg.MaxAttempts; n++ {
		var winner *models.ProcessingRecord
		winner, err = c.cache.Put(ctx, rec.Document.Fingerprint, rec)
		if err == nil {
			return winner, nil
		}
		if n == c.cfg.MaxAttempts {
			break
		}
		delay := c.cfg.backoff(n)
		logCtx.Warn("Failed to store result in the idempotency cache, will retry.", "attempt", n, "backoff", delay.String(), "error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			break
		}
	}
	logCtx.Error("Failed to store result in the idempotency cache.", "error", err)
	return nil, fmt.Errorf("%w: %v", models.ErrResultNotStored, err)
}

// markFailed is the best-effort failure path for errors that happen outside
// the stages, typically a store that rejected an earlier write.
func (c *Coordinator) markFailed(ctx context.Context, logCtx *slog.Logger, doc models.Document, reason string) {
	doc.OverallConfidence = nil
	doc.Fail(reason, c.now().UTC())
	if err := c.store.Update(context.WithoutCancel(ctx), doc); err != nil {
		logCtx.Error("CRITICAL: Failed to update document status to failed after a persistence error.", "updateError", err)
		return
	}
	c.metrics.DocumentFinished(doc.Status, nil)
}

// abort fails the document at stage and persists it.
func (c *Coordinator) abort(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord, stage models.Stage, cause error) error {
	pe := &models.PipelineError{DocumentID: rec.Document.ID, Stage: stage, Cause: cause, Partial: rec}
	doc := rec.Document
	doc.OverallConfidence = nil
	doc.Fail(pe.PublicMessage(), c.now().UTC())
	rec.Document = doc

	if errors.Is(cause, models.ErrCancelled) {
		logCtx.Info("Document cancelled.", "stage", stage)
	} else {
		logCtx.Error("Document failed.", "stage", stage, "error", cause)
	}
	if err := c.store.Update(context.WithoutCancel(ctx), doc); err != nil {
		logCtx.Error("CRITICAL: Failed to update document status to failed after a processing error.", "updateError", err)
	}
	c.metrics.DocumentFinished(doc.Status, nil)
	return pe
}

func (c *Coordinator) parseStage(ctx context.Context, _ *slog.Logger, rec *models.ProcessingRecord, job Job) error {
	var parsed *models.ParsedDocument
	err := c.attempt(ctx, rec.Document.ID, models.StageParse, "", func(ctx context.Context) error {
		p, err := c.parser.Parse(ctx, rec.Document.Format, job.Content)
		if err != nil {
			return err
		}
		if p == nil || len(p.Pages) == 0 {
			return &models.ParseError{Format: rec.Document.Format, Reason: "document has no pages"}
		}
		parsed = p
		return nil
	})
	if err != nil {
		return err
	}
	rec.Parsed = parsed
	rec.PageCount = len(parsed.Pages)
	return nil
}

func (c *Coordinator) classifyStage(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord, _ Job) error {
	var candidates []llm.SectionCandidate
	err := c.attempt(ctx, rec.Document.ID, models.StageClassify, "", func(ctx context.Context) error {
		out, err := c.classifier.Classify(ctx, rec.Parsed)
		if err != nil {
			return err
		}
		candidates = out
		return nil
	})
	var sections []models.ClassifiedSection
	if err == nil {
		sections = validateSections(candidates, rec.Parsed)
		if allUnclassified(sections) {
			err = models.ErrClassificationEmpty
		}
	}
	if err != nil {
		logCtx.Warn("Classification unusable, falling back to raw text.", "error", err)
		raw := rec.Parsed.RawText
		rec.RawText = &raw
		rec.Sections = []models.ClassifiedSection{fallbackSection(rec.Parsed)}
		rec.Warn(models.StageClassify, models.WarnClassificationEmpty, err.Error())
		return nil
	}
	rec.Sections = sections
	return nil
}

type extraction struct {
	fields map[string]llm.RawField
	err    error
}

func (c *Coordinator) extractStage(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord, _ Job) error {
	results := make([]extraction, len(rec.Sections))
	eg := new(errgroup.Group)
	eg.SetLimit(c.cfg.ExtractConcurrency)
	for i, sec := range rec.Sections {
		eg.Go(func() error {
			in := llm.SectionInput{
				DocumentID: rec.Document.ID,
				Section:    sec,
				Text:       sec.Text,
				Fields:     llm.FieldsFor(sec.Type),
			}
			results[i].err = c.attempt(ctx, rec.Document.ID, models.StageExtract, sec.Ref(), func(ctx context.Context) error {
				out, err := c.extractor.Extract(ctx, in)
				if err != nil {
					return err
				}
				results[i].fields = out
				return nil
			})
			return nil
		})
	}
	_ = eg.Wait()

	m := newMerger(&rec.Information)
	for i, sec := range rec.Sections {
		if err := results[i].err; err != nil {
			logCtx.Warn("Extraction failed for section.", "section", sec.Ref(), "error", err)
			rec.Warn(models.StageExtract, models.WarnExtractionIncomplete,
				fmt.Sprintf("%v: section %s: %v", models.ErrExtractionIncomplete, sec.Ref(), err))
			continue
		}
		m.add(sec, results[i].fields)
	}
	rec.Evidence = m.resolve()
	rec.Information.Normalize()
	return nil
}

func (c *Coordinator) summarizeStage(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord, _ Job) error {
	var summary *models.Summary
	err := c.attempt(ctx, rec.Document.ID, models.StageSummarize, "", func(ctx context.Context) error {
		out, err := c.summarizer.Summarize(ctx, llm.SummaryInput{
			DocumentID:  rec.Document.ID,
			Sections:    rec.Sections,
			Information: rec.Information,
		})
		if err != nil {
			return err
		}
		summary = out
		return nil
	})
	if err == nil && summary == nil {
		err = errors.New("summarizer returned no summary")
	}
	if err != nil {
		logCtx.Warn("Summary unavailable.", "error", err)
		rec.Summary = models.Summary{}
		rec.Warn(models.StageSummarize, models.WarnSummaryUnavailable, err.Error())
		rec.Normalize()
		return nil
	}
	s := *summary
	s.Confidence = confidence.Clamp(s.Confidence)
	for i := range s.Sections {
		s.Sections[i].Confidence = confidence.Clamp(s.Sections[i].Confidence)
	}
	rec.Summary = s
	rec.Normalize()
	return nil
}

func (c *Coordinator) scoreStage(ctx context.Context, _ *slog.Logger, rec *models.ProcessingRecord, _ Job) error {
	return c.attempt(ctx, rec.Document.ID, models.StageScore, "", func(context.Context) error {
		c.score(rec)
		return nil
	})
}

// score recomputes every field score, the overall confidence and the
// breakdown from the record's evidence.
func (c *Coordinator) score(rec *models.ProcessingRecord) {
	var scores []confidence.FieldScore
	for _, f := range rec.Information.Fields() {
		if f.Value.IsNull() {
			f.Confidence = 0
			f.Source = ""
			scores = append(scores, confidence.FieldScore{Name: f.Name, Null: true})
			continue
		}
		if ev, ok := rec.Evidence[f.Name]; ok {
			f.Confidence = confidence.ScoreEvidence(ev)
		} else {
			f.Confidence = confidence.Clamp(f.Confidence)
		}
		scores = append(scores, confidence.FieldScore{Name: f.Name, Score: f.Confidence})
	}
	rec.OverallConfidence = confidence.ScoreDocument(scores, c.weights)
	rec.Breakdown = confidence.Breakdown(scores)
}

func (c *Coordinator) formatStage(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRecord, _ Job) error {
	now := c.now().UTC()
	rec.ProcessedAt = now
	rec.Document.Complete(rec.OverallConfidence, now)
	rec.Normalize()
	err := c.attempt(ctx, rec.Document.ID, models.StageFormat, "", func(context.Context) error {
		if _, err := c.output.ToJSON(rec); err != nil {
			return err
		}
		_, err := c.output.ToCSV(rec)
		return err
	})
	if err != nil {
		logCtx.Error("Generated output failed validation.", "error", err)
	}
	return err
}
