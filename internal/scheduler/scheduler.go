// Package scheduler bounds how many documents are processed at once. Excess
// submissions wait in a FIFO queue; nothing is rejected for capacity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Lllllllleong/pitchdeckflow/internal/metrics"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/pipeline"
)

// DefaultLimit is the default number of documents processed concurrently.
const DefaultLimit = 10

// DefaultRetention is how many finished documents stay visible to Status,
// Cancel and Await. Older ones are answered from the document store.
const DefaultRetention = 256

var (
	ErrClosed   = errors.New("scheduler is shut down")
	ErrFinished = errors.New("document already finished")
)

// Runner processes one admitted document. *pipeline.Coordinator satisfies it.
type Runner interface {
	Process(ctx context.Context, job pipeline.Job) (*models.ProcessingRecord, error)
}

// Task is one submission.
type Task struct {
	Document models.Document
	Content  []byte
}

// Admission reports how a submission was taken in. Position 0 means it
// started immediately; otherwise it is the 1-based place in the queue.
type Admission struct {
	Accepted bool `json:"accepted"`
	Position int  `json:"position"`
}

// Outcome is the terminal result of a submission. Record is handed to the
// first Await that observes it and released afterwards.
type Outcome struct {
	Record *models.ProcessingRecord
	Err    error
}

type entry struct {
	task      Task
	state     models.Status
	cancelled atomic.Bool
	done      chan struct{}
	outcome   Outcome
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithRetention sets how many finished entries are kept. n <= 0 keeps the
// default.
func WithRetention(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.retention = n
		}
	}
}

type Scheduler struct {
	runner    Runner
	limit     int
	retention int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queue   []*entry
	running int
	entries map[string]*entry
	// finished holds ids of terminal entries, oldest first.
	finished []string
	closed   bool
}

func New(runner Runner, limit int, opts ...Option) *Scheduler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:    runner,
		limit:     limit,
		retention: DefaultRetention,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit admits a document. It starts at once while fewer than the limit are
// running and is queued otherwise.
func (s *Scheduler) Submit(task Task) (Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Admission{}, ErrClosed
	}
	id := task.Document.ID
	if _, ok := s.entries[id]; ok {
		return Admission{}, fmt.Errorf("document %s: %w", id, models.ErrDuplicate)
	}
	e := &entry{task: task, state: models.StatusQueued, done: make(chan struct{})}
	s.entries[id] = e

	if s.running < s.limit {
		s.running++
		e.state = models.StatusProcessing
		s.wg.Add(1)
		go s.work(e)
		s.metrics.SetQueue(len(s.queue), s.running)
		return Admission{Accepted: true}, nil
	}
	s.queue = append(s.queue, e)
	s.metrics.SetQueue(len(s.queue), s.running)
	s.logger.Info("Document queued.", "documentId", id, "position", len(s.queue))
	return Admission{Accepted: true, Position: len(s.queue)}, nil
}

// work processes e and then keeps promoting queued entries in FIFO order
// until the queue is empty.
func (s *Scheduler) work(e *entry) {
	defer s.wg.Done()
	for e != nil {
		rec, err := s.runner.Process(s.ctx, pipeline.Job{
			Document:  e.task.Document,
			Content:   e.task.Content,
			Cancelled: e.cancelled.Load,
		})

		s.mu.Lock()
		e.outcome = Outcome{Record: rec, Err: err}
		e.state = models.StatusCompleted
		if err != nil {
			e.state = models.StatusFailed
		}
		e.task.Content = nil
		close(e.done)
		s.retire(e.task.Document.ID)

		e = nil
		if len(s.queue) > 0 {
			e = s.queue[0]
			s.queue = s.queue[1:]
			e.state = models.StatusProcessing
		} else {
			s.running--
		}
		s.metrics.SetQueue(len(s.queue), s.running)
		s.mu.Unlock()
	}
}

// retire records id as finished and evicts the oldest finished entries past
// the retention limit. Callers hold s.mu.
func (s *Scheduler) retire(id string) {
	s.finished = append(s.finished, id)
	for len(s.finished) > s.retention {
		delete(s.entries, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// Cancel flags a queued or running document. The coordinator observes the
// flag before its next stage; a call already in flight is not interrupted.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.ErrNotFound
	}
	if e.state.Terminal() {
		return ErrFinished
	}
	e.cancelled.Store(true)
	s.logger.Info("Cancellation requested.", "documentId", id, "state", e.state)
	return nil
}

// Await blocks until the document reaches a terminal state or ctx is done.
// Finished documents that have been evicted report models.ErrNotFound.
func (s *Scheduler) Await(ctx context.Context, id string) (Outcome, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, models.ErrNotFound
	}
	select {
	case <-e.done:
		s.mu.Lock()
		out := e.outcome
		e.outcome.Record = nil
		s.mu.Unlock()
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Status reports the scheduler's view of a document and its queue position.
func (s *Scheduler) Status(id string) (models.Status, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return "", 0, false
	}
	if e.state == models.StatusQueued {
		for i, q := range s.queue {
			if q == e {
				return e.state, i + 1, true
			}
		}
	}
	return e.state, 0, true
}

type Stats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Limit   int `json:"limit"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Queued: len(s.queue), Running: s.running, Limit: s.limit}
}

// Shutdown stops admission and waits for queued and running documents. If
// ctx ends first, everything left is cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for _, e := range s.entries {
			e.cancelled.Store(true)
		}
		s.mu.Unlock()
		s.cancel()
		s.logger.Warn("Shutdown deadline reached, cancelling remaining documents.", "error", ctx.Err())
		<-done
		return ctx.Err()
	}
}
