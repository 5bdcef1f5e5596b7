package audit

import (
	"context"
	"sync"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// MemorySink keeps entries for the life of the process.
type MemorySink struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(_ context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) List(_ context.Context, documentID string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEntry
	for _, e := range s.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}
