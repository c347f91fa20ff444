// Package embedstore persists entity-name embeddings so index rebuilds only
// embed names they have not seen before.
package embedstore

import (
	"context"
	"sort"
	"sync"
)

// Store keeps one vector per (node id, embedding model).
type Store interface {
	Load(ctx context.Context, model string) (map[string][]float32, error)
	Upsert(ctx context.Context, model string, vectors map[string][]float32) error
	// Prune deletes vectors of model whose node id is not in keep.
	Prune(ctx context.Context, model string, keep []string) (int64, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	vectors map[string]map[string][]float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vectors: make(map[string]map[string][]float32)}
}

func (m *MemoryStore) Load(ctx context.Context, model string) (map[string][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]float32, len(m.vectors[model]))
	for id, v := range m.vectors[model] {
		out[id] = v
	}
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, model string, vectors map[string][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.vectors[model]
	if !ok {
		byID = make(map[string][]float32, len(vectors))
		m.vectors[model] = byID
	}
	for id, v := range vectors {
		byID[id] = append([]float32(nil), v...)
	}
	return nil
}

func (m *MemoryStore) Prune(ctx context.Context, model string, keep []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		live[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id := range m.vectors[model] {
		if _, ok := live[id]; !ok {
			delete(m.vectors[model], id)
			n++
		}
	}
	return n, nil
}

// IDs lists the stored node ids of model in ascending order.
func (m *MemoryStore) IDs(model string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.vectors[model]))
	for id := range m.vectors[model] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
