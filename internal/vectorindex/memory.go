package vectorindex

import (
	"context"
	"strings"
	"sync"
)

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Upsert(_ context.Context, e Entry) error {
	if len(e.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, embedding []float32, limit int, chatID int64) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Match
	for _, e := range m.entries {
		if e.Metadata.ChatID != chatID {
			continue
		}
		d, ok := cosineDistance(embedding, e.Embedding)
		if !ok {
			continue
		}
		out = append(out, Match{ID: e.ID, Document: e.Document, Metadata: e.Metadata, Distance: d})
	}
	return rank(out, limit), nil
}

func (m *MemoryIndex) DeleteByPrefix(_ context.Context, chatID int64, idPrefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if e.Metadata.ChatID == chatID && strings.HasPrefix(id, idPrefix) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
