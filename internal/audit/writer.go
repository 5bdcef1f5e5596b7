// Package audit keeps the append-only history of every stage attempt. Writes
// never fail the caller: when the primary sink is unavailable entries go to a
// bounded in-memory buffer that can be replayed later.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Sink is a durable store of audit entries.
type Sink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	List(ctx context.Context, documentID string) ([]models.AuditEntry, error)
}

// DefaultFallbackCapacity bounds the in-memory buffer.
const DefaultFallbackCapacity = 10000

type Option func(*Writer)

func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.logger = l } }

func WithFallbackCapacity(n int) Option { return func(w *Writer) { w.capacity = n } }

func WithClock(now func() time.Time) Option { return func(w *Writer) { w.now = now } }

func WithIDGenerator(gen models.IDGenerator) Option { return func(w *Writer) { w.newID = gen } }

// WithFallbackHook registers a callback invoked each time an entry lands in
// the fallback buffer.
func WithFallbackHook(fn func()) Option { return func(w *Writer) { w.onFallback = fn } }

type Writer struct {
	sink       Sink
	logger     *slog.Logger
	capacity   int
	now        func() time.Time
	newID      models.IDGenerator
	onFallback func()

	mu       sync.Mutex
	fallback []models.AuditEntry
	dropped  int
}

// NewWriter creates a Writer. A nil sink keeps everything in the buffer.
func NewWriter(sink Sink, opts ...Option) *Writer {
	w := &Writer{
		sink:     sink,
		logger:   slog.Default(),
		capacity: DefaultFallbackCapacity,
		now:      time.Now,
		newID:    models.NewID,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Record appends entry to the primary sink, or to the fallback buffer if the
// sink fails. It never returns an error.
func (w *Writer) Record(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = w.newID()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = w.now().UTC()
	}
	if w.sink != nil {
		err := w.sink.Append(ctx, entry)
		if err == nil {
			return
		}
		w.logger.Warn("Audit sink unavailable, buffering entry in memory.",
			"documentId", entry.DocumentID, "stage", entry.Stage, "error", err)
	}
	w.buffer(entry)
}

func (w *Writer) buffer(entry models.AuditEntry) {
	w.mu.Lock()
	if len(w.fallback) >= w.capacity {
		w.fallback = w.fallback[1:]
		w.dropped++
	}
	w.fallback = append(w.fallback, entry)
	w.mu.Unlock()
	if w.onFallback != nil {
		w.onFallback()
	}
}

// Span is one audited attempt: Begin writes the started entry and End the
// terminal one.
type Span struct {
	w     *Writer
	ctx   context.Context
	entry models.AuditEntry
	once  sync.Once
}

// Begin records the start of an attempt.
func (w *Writer) Begin(ctx context.Context, documentID string, stage models.Stage, scope string, attempt int) *Span {
	entry := models.AuditEntry{
		ID:         w.newID(),
		DocumentID: documentID,
		Stage:      stage,
		Scope:      scope,
		Attempt:    attempt,
		StartedAt:  w.now().UTC(),
		Status:     models.AuditStarted,
	}
	w.Record(ctx, entry)
	return &Span{w: w, ctx: context.WithoutCancel(ctx), entry: entry}
}

// End records the outcome. Only the first call has an effect.
func (s *Span) End(err error) {
	s.once.Do(func() {
		done := s.w.now().UTC()
		entry := s.entry
		entry.ID = s.w.newID()
		entry.CompletedAt = &done
		entry.Status = models.AuditCompleted
		if err != nil {
			msg := err.Error()
			entry.Status = models.AuditFailed
			entry.ErrorDetails = &msg
		}
		s.w.Record(s.ctx, entry)
	})
}

// Entries returns the document's history from the sink and the fallback
// buffer, ordered by start time with each started entry ahead of its outcome.
func (w *Writer) Entries(ctx context.Context, documentID string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	seen := map[string]bool{}
	if w.sink != nil {
		stored, err := w.sink.List(ctx, documentID)
		if err != nil {
			w.logger.Warn("Failed to list audit entries from sink, using buffer only.", "documentId", documentID, "error", err)
		}
		for _, e := range stored {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	w.mu.Lock()
	for _, e := range w.fallback {
		if e.DocumentID == documentID && !seen[e.ID] {
			out = append(out, e)
		}
	}
	w.mu.Unlock()
	Sort(out)
	if out == nil {
		out = []models.AuditEntry{}
	}
	return out, nil
}

// Sort orders entries by start time. On ties earlier attempts come first and
// a started entry precedes its outcome.
func Sort(entries []models.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		if a.Stage == b.Stage && a.Scope == b.Scope && a.Attempt != b.Attempt {
			return a.Attempt < b.Attempt
		}
		return rank(a) < rank(b)
	})
}

func rank(e models.AuditEntry) int {
	if e.Status == models.AuditStarted {
		return 0
	}
	return 1
}

// Flush replays the fallback buffer into the sink. Entries that still fail
// stay buffered; the first such error is returned.
func (w *Writer) Flush(ctx context.Context) error {
	if w.sink == nil {
		return nil
	}
	w.mu.Lock()
	pending := w.fallback
	w.fallback = nil
	w.mu.Unlock()

	var firstErr error
	var failed []models.AuditEntry
	for _, e := range pending {
		if err := w.sink.Append(ctx, e); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, e)
		}
	}
	if len(failed) > 0 {
		w.mu.Lock()
		w.fallback = append(failed, w.fallback...)
		w.mu.Unlock()
	}
	if firstErr != nil {
		w.logger.Warn("Audit flush incomplete.", "remaining", len(failed), "error", firstErr)
	} else if len(pending) > 0 {
		w.logger.Info("Audit fallback buffer flushed.", "entries", len(pending))
	}
	return firstErr
}

// Pending reports how many entries wait in the fallback buffer.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fallback)
}

// Dropped reports how many buffered entries were evicted for capacity.
func (w *Writer) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}
