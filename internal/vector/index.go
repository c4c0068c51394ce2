// Package vector provides per-(knowledge base, provider) vector partitions: an in-memory
// cosine index hydrated lazily from durable storage.
package vector

import "context"

// Index is an in-memory similarity index over unit vectors.
type Index interface {
	Upsert(ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int, minScore float64) ([]*VectorResult, error)
	Remove(ids []string)
	Size() int
}

// VectorResult is a single vector search hit. ID is the chunk ID and Score is
// 1 - cosine distance.
type VectorResult struct {
	ID    string
	Score float64
}
