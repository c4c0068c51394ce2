package embedding

import (
	"context"
	"hash/fnv"
	"sync/atomic"

	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// MockEmbedder hashes lexical terms into a fixed number of buckets, so texts sharing
// terms get similar vectors. Used for tests and offline runs.
type MockEmbedder struct {
	dimensions int
	failing    atomic.Bool
	calls      atomic.Int64
}

// NewMockEmbedder returns a mock embedder producing vectors of the given dimension.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	return &MockEmbedder{dimensions: dimensions}
}

// SetFailing makes every subsequent call fail with ErrProviderUnavailable.
func (m *MockEmbedder) SetFailing(failing bool) {
	m.failing.Store(failing)
}

// Calls returns how many Embed and Ping calls were made.
func (m *MockEmbedder) Calls() int64 {
	return m.calls.Load()
}

// Embed returns one unit vector per text.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.failing.Load() {
		return nil, unavailable("mock", context.DeadlineExceeded)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *MockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	tokens := lexical.Tokenize(text)
	if len(tokens) == 0 {
		vec[0] = 1
		return vec
	}
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(m.dimensions)]++
	}
	utils.NormalizeL2(vec)
	return vec
}

// Ping fails while the mock is set to failing.
func (m *MockEmbedder) Ping(context.Context) error {
	m.calls.Add(1)
	if m.failing.Load() {
		return unavailable("mock", context.DeadlineExceeded)
	}
	return nil
}

// Dimensions returns the vector dimension.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// Close is a no-op.
func (m *MockEmbedder) Close() error {
	return nil
}
