package models

import (
	"errors"
	"fmt"
)

// SearchMode selects which retrieval path answers a SearchQuery.
type SearchMode string

const (
	ModeVector   SearchMode = "vector"
	ModeLexical  SearchMode = "lexical"
	ModeHybrid   SearchMode = "hybrid"
	ModeFulltext SearchMode = "fulltext"
)

// SearchQuery is a search request. Zero values mean "use configured default"; weights
// are pointers so an explicit 0 can switch a leg off.
type SearchQuery struct {
	Query          string     `json:"query"`
	Mode           SearchMode `json:"mode,omitempty"`
	KnowledgeBases []string   `json:"knowledge_bases,omitempty"`
	TopK           int        `json:"top_k,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	VectorWeight   *float64   `json:"vector_weight,omitempty"`
	LexicalWeight  *float64   `json:"lexical_weight,omitempty"`
	Expand         *bool      `json:"expand,omitempty"`
	Rerank         *bool      `json:"rerank,omitempty"`
	Debug          bool       `json:"debug,omitempty"`
}

// ErrInvalidQuery is returned by Validate.
var ErrInvalidQuery = errors.New("invalid search query")

// Validate ensures the query has valid fields and fills the mode default.
// topK falls back to defaultTopK and is capped at maxTopK.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	switch q.Mode {
	case ModeVector, ModeLexical, ModeHybrid, ModeFulltext:
	default:
		return fmt.Errorf("%w: unknown search mode %q", ErrInvalidQuery, q.Mode)
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	if _, ok := ParseProvider(q.Provider); !ok {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidQuery, q.Provider)
	}
	if q.VectorWeight != nil && *q.VectorWeight < 0 || q.LexicalWeight != nil && *q.LexicalWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidQuery)
	}
	return nil
}

// HybridQuery is the fully resolved input of a hybrid search.
type HybridQuery struct {
	Query          string
	KnowledgeBases []string
	TopK           int
	VectorWeight   float64
	LexicalWeight  float64
	Expand         bool
	Rerank         bool
	Provider       Provider
}
