package cache

import (
	"context"
	"sync"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Memory keeps serialised records in a map. Each Get decodes a fresh copy so
// callers can never mutate a cached entry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (*models.ProcessingRecord, bool, error) {
	m.mu.RLock()
	data, ok := m.entries[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	rec, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (m *Memory) Put(_ context.Context, fingerprint string, rec *models.ProcessingRecord) (*models.ProcessingRecord, error) {
	data, err := encode(rec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	existing, ok := m.entries[fingerprint]
	if !ok {
		m.entries[fingerprint] = data
		existing = data
	}
	m.mu.Unlock()
	return decode(existing)
}

func (m *Memory) Invalidate(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	delete(m.entries, fingerprint)
	m.mu.Unlock()
	return nil
}

// Len reports the number of cached fingerprints.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
