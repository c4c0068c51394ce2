package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

var (
	// ErrPartitionNotFound is returned when a partition has not been created.
	ErrPartitionNotFound = errors.New("vector partition not found")
	// ErrDimensionMismatch means a partition was created for vectors of another size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Store is the durable side of the partitions.
type Store interface {
	CreatePartition(ctx context.Context, part *models.Partition) error
	GetPartition(ctx context.Context, kbID string, p models.Provider) (*models.Partition, error)
	DropPartition(ctx context.Context, kbID string, p models.Provider) (bool, error)
	UpsertEmbeddings(ctx context.Context, kbID string, p models.Provider, ids []string, vectors [][]float32) error
	DeleteEmbeddings(ctx context.Context, kbID string, p models.Provider, ids []string) error
	LoadEmbeddings(ctx context.Context, kbID string, p models.Provider) ([]string, [][]float32, error)
	CountEmbeddings(ctx context.Context, kbID string, p models.Provider, ids []string) (int, error)
}

// PartitionName returns the collection name for a knowledge base and provider.
func PartitionName(prefix, kbID string, p models.Provider) string {
	return prefix + kbID + "_" + string(p)
}

type partitionKey struct {
	kb       string
	provider models.Provider
}

// Manager owns the partitions of every knowledge base and caches hydrated indexes.
type Manager struct {
	store     Store
	prefix    string
	threshold float64
	logger    *zap.Logger

	mu     sync.Mutex
	loaded map[partitionKey]*MemoryIndex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a manager naming partitions with prefix and dropping search hits
// scoring below threshold.
func NewManager(store Store, prefix string, threshold float64, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		prefix:    prefix,
		threshold: threshold,
		loaded:    make(map[partitionKey]*MemoryIndex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrNop(m.logger)
	return m
}

// Name returns the partition name for kbID and p.
func (m *Manager) Name(kbID string, p models.Provider) string {
	return PartitionName(m.prefix, kbID, p)
}

// Ensure creates the partition when missing. An existing partition with a different
// dimension is an error.
func (m *Manager) Ensure(ctx context.Context, kbID string, p models.Provider, dims int) error {
	part, err := m.store.GetPartition(ctx, kbID, p)
	switch {
	case err == nil:
		if part.Dimensions != dims {
			return fmt.Errorf("%w: partition %s has dimension %d, provider produces %d", ErrDimensionMismatch, part.Name, part.Dimensions, dims)
		}
		return nil
	case !errors.Is(err, ErrPartitionNotFound):
		return err
	}
	if err := m.store.CreatePartition(ctx, &models.Partition{
		KnowledgeBaseID: kbID,
		Provider:        p,
		Name:            m.Name(kbID, p),
		Dimensions:      dims,
	}); err != nil {
		return fmt.Errorf("create partition %s: %w", m.Name(kbID, p), err)
	}
	m.logger.Debug("created partition", zap.String("partition", m.Name(kbID, p)), zap.Int("dims", dims))
	return nil
}

// Exists reports whether the partition has been created.
func (m *Manager) Exists(ctx context.Context, kbID string, p models.Provider) (bool, error) {
	_, err := m.store.GetPartition(ctx, kbID, p)
	if errors.Is(err, ErrPartitionNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Upsert stores vectors durably and updates the cached index if one is loaded.
func (m *Manager) Upsert(ctx context.Context, kbID string, p models.Provider, ids []string, vectors [][]float32) error {
	part, err := m.store.GetPartition(ctx, kbID, p)
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if len(v) != part.Dimensions {
			return fmt.Errorf("%w: partition %s got %d, expected %d", ErrDimensionMismatch, part.Name, len(v), part.Dimensions)
		}
	}
	if err := m.store.UpsertEmbeddings(ctx, kbID, p, ids, vectors); err != nil {
		return fmt.Errorf("store embeddings in %s: %w", part.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.loaded[partitionKey{kbID, p}]; ok {
		return idx.Upsert(ids, vectors)
	}
	return nil
}

// Delete removes vectors by chunk ID. A missing partition is not an error.
func (m *Manager) Delete(ctx context.Context, kbID string, p models.Provider, ids []string) error {
	if err := m.store.DeleteEmbeddings(ctx, kbID, p, ids); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.loaded[partitionKey{kbID, p}]; ok {
		idx.Remove(ids)
	}
	return nil
}

// Search returns up to k chunks scoring at least the similarity threshold. A missing
// partition yields no results.
func (m *Manager) Search(ctx context.Context, kbID string, p models.Provider, query []float32, k int) ([]*VectorResult, error) {
	idx, err := m.index(ctx, kbID, p)
	if errors.Is(err, ErrPartitionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, query, k, m.threshold)
}

// Count returns how many of ids have a vector, or the partition size when ids is empty.
func (m *Manager) Count(ctx context.Context, kbID string, p models.Provider, ids ...string) (int, error) {
	return m.store.CountEmbeddings(ctx, kbID, p, ids)
}

// Drop deletes the partition with all its vectors and reports whether it existed.
func (m *Manager) Drop(ctx context.Context, kbID string, p models.Provider) (bool, error) {
	m.mu.Lock()
	delete(m.loaded, partitionKey{kbID, p})
	m.mu.Unlock()
	existed, err := m.store.DropPartition(ctx, kbID, p)
	if err != nil {
		return false, fmt.Errorf("drop partition %s: %w", m.Name(kbID, p), err)
	}
	if existed {
		m.logger.Info("dropped partition", zap.String("partition", m.Name(kbID, p)))
	}
	return existed, nil
}

// Evict forgets cached indexes for kbID. The next search hydrates them again.
func (m *Manager) Evict(kbID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.loaded {
		if key.kb == kbID {
			delete(m.loaded, key)
		}
	}
}

func (m *Manager) index(ctx context.Context, kbID string, p models.Provider) (*MemoryIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := partitionKey{kbID, p}
	if idx, ok := m.loaded[key]; ok {
		return idx, nil
	}
	part, err := m.store.GetPartition(ctx, kbID, p)
	if err != nil {
		return nil, err
	}
	idx, err := NewMemoryIndex(part.Dimensions)
	if err != nil {
		return nil, err
	}
	ids, vectors, err := m.store.LoadEmbeddings(ctx, kbID, p)
	if err != nil {
		return nil, fmt.Errorf("hydrate partition %s: %w", part.Name, err)
	}
	if err := idx.Upsert(ids, vectors); err != nil {
		return nil, fmt.Errorf("hydrate partition %s: %w", part.Name, err)
	}
	m.loaded[key] = idx
	m.logger.Debug("hydrated partition", zap.String("partition", part.Name), zap.Int("vectors", idx.Size()))
	return idx, nil
}
