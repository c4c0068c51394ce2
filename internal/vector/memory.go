package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine index. Vectors are stored by chunk ID; adding an
// existing ID replaces its vector.
type MemoryIndex struct {
	dimensions int
	pos        map[string]int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Upsert inserts or replaces vectors. Nothing is written if any vector has the wrong
// dimension.
func (m *MemoryIndex) Upsert(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if p, ok := m.pos[id]; ok {
			m.vectors[p] = vec
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns up to k hits with score >= minScore, best first. Equal scores keep
// insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, minScore float64) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, 0, len(m.ids))
	for i, vec := range m.vectors {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		score := CosineSimilarity(query, vec)
		if score < minScore {
			continue
		}
		results = append(results, &VectorResult{ID: m.ids[i], Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove deletes vectors by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.pos[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return
	}
	newIDs := make([]string, 0, len(m.ids)-len(drop))
	newVectors := make([][]float32, 0, len(m.ids)-len(drop))
	m.pos = make(map[string]int, len(m.ids)-len(drop))
	for i, id := range m.ids {
		if drop[id] {
			continue
		}
		m.pos[id] = len(newIDs)
		newIDs = append(newIDs, id)
		newVectors = append(newVectors, m.vectors[i])
	}
	m.ids = newIDs
	m.vectors = newVectors
}

// Has reports whether id is indexed.
func (m *MemoryIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pos[id]
	return ok
}

// Size returns the number of vectors.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
