package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

type Memory struct {
	mu   sync.RWMutex
	docs map[string]models.Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]models.Document)}
}

func (m *Memory) Create(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return models.ErrDuplicate
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &doc, nil
}

func (m *Memory) Update(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; !ok {
		return models.ErrNotFound
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]models.Document, error) {
	m.mu.RLock()
	out := make([]models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.After(out[j].QueuedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
