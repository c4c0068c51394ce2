package lexical

import (
	"context"
	"errors"
)

var (
	// ErrIndexCorrupt means a persisted index could not be read; it is rebuilt from the chunk store.
	ErrIndexCorrupt = errors.New("lexical index corrupt")
	// ErrIndexNotFound means no persisted index exists yet.
	ErrIndexNotFound = errors.New("lexical index not found")
)

// Index is a lexical ranking structure over the chunks of one knowledge base.
type Index interface {
	// Add indexes texts under ids, replacing entries that already exist.
	Add(ctx context.Context, ids []string, texts []string) error
	Remove(ctx context.Context, ids []string) error
	// Search returns hits with a strictly positive score, best first.
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
	// Reset empties the index.
	Reset(ctx context.Context) error
	Len() int
	Save() error
	Close() error
}

// Hit is a single lexical search hit (ID is a chunk ID).
type Hit struct {
	ID    string
	Score float64
}
