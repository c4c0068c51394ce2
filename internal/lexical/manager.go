package lexical

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Backend names.
const (
	BackendBM25  = "bm25"
	BackendBleve = "bleve"
)

// Source supplies chunk content for rebuilding an index; it is the source of truth.
type Source interface {
	ChunkTexts(ctx context.Context, kbID string) (ids []string, texts []string, err error)
}

// Manager owns one open Index per knowledge base and rebuilds indexes that are missing
// or unreadable.
type Manager struct {
	dir     string
	backend string
	source  Source
	logger  *zap.Logger

	mu      sync.Mutex
	indexes map[string]Index
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for rebuild and corruption events.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager storing indexes under dir with the given backend.
func NewManager(dir, backend string, source Source, opts ...ManagerOption) *Manager {
	if backend == "" {
		backend = BackendBM25
	}
	m := &Manager{
		dir:     dir,
		backend: backend,
		source:  source,
		logger:  zap.NewNop(),
		indexes: make(map[string]Index),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns where the index for kbID is persisted.
func (m *Manager) Path(kbID string) string {
	if m.backend == BackendBleve {
		return filepath.Join(m.dir, "bleve_"+kbID)
	}
	return filepath.Join(m.dir, "bm25_"+kbID+".msgpack")
}

// Get returns the open index for kbID, loading it from disk or rebuilding it from the
// source when the persisted form is missing or corrupt.
func (m *Manager) Get(ctx context.Context, kbID string) (Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[kbID]; ok {
		return idx, nil
	}
	idx, err := m.openLocked(ctx, kbID)
	if err != nil {
		return nil, err
	}
	m.indexes[kbID] = idx
	return idx, nil
}

func (m *Manager) openLocked(ctx context.Context, kbID string) (Index, error) {
	path := m.Path(kbID)
	switch m.backend {
	case BackendBleve:
		_, statErr := os.Stat(path)
		idx, err := OpenBleveIndex(path)
		if err == nil && os.IsNotExist(statErr) {
			if _, err := m.fill(ctx, kbID, idx); err != nil {
				idx.Close()
				return nil, err
			}
			return idx, nil
		}
		if errors.Is(err, ErrIndexCorrupt) {
			m.logger.Warn("lexical index corrupt, rebuilding", zap.String("kb_id", kbID), zap.Error(err))
			if rmErr := (&BleveIndex{path: path}).deleteFile(); rmErr != nil {
				return nil, fmt.Errorf("remove corrupt index: %w", rmErr)
			}
			idx, err = OpenBleveIndex(path)
			if err != nil {
				return nil, err
			}
			if _, err := m.fill(ctx, kbID, idx); err != nil {
				idx.Close()
				return nil, err
			}
			return idx, nil
		}
		return idx, err
	default:
		idx := NewBM25Index(path)
		err := idx.Load()
		if err == nil {
			return idx, nil
		}
		if errors.Is(err, ErrIndexCorrupt) {
			m.logger.Warn("lexical index corrupt, rebuilding", zap.String("kb_id", kbID), zap.Error(err))
		} else if !errors.Is(err, ErrIndexNotFound) {
			return nil, err
		}
		if _, err := m.fill(ctx, kbID, idx); err != nil {
			return nil, err
		}
		return idx, nil
	}
}

// fill resets idx and loads every chunk of kbID from the source, then persists it.
func (m *Manager) fill(ctx context.Context, kbID string, idx Index) (int, error) {
	ids, texts, err := m.source.ChunkTexts(ctx, kbID)
	if err != nil {
		return 0, fmt.Errorf("read chunks for lexical rebuild: %w", err)
	}
	if err := idx.Reset(ctx); err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		if err := idx.Add(ctx, ids, texts); err != nil {
			return 0, err
		}
	}
	if err := idx.Save(); err != nil {
		return 0, err
	}
	m.logger.Debug("lexical index rebuilt", zap.String("kb_id", kbID), zap.Int("chunks", len(ids)))
	return len(ids), nil
}

// Rebuild discards the index for kbID and rebuilds it from the source. Returns the
// number of indexed chunks.
func (m *Manager) Rebuild(ctx context.Context, kbID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[kbID]
	if !ok {
		var err error
		idx, err = m.openLocked(ctx, kbID)
		if err != nil {
			return 0, err
		}
		m.indexes[kbID] = idx
	}
	return m.fill(ctx, kbID, idx)
}

// Drop closes the index for kbID and deletes its persisted form.
func (m *Manager) Drop(kbID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[kbID]; ok {
		_ = idx.Close()
		delete(m.indexes, kbID)
	}
	path := m.Path(kbID)
	if m.backend == BackendBleve {
		return (&BleveIndex{path: path}).deleteFile()
	}
	return NewBM25Index(path).deleteFile()
}

// Close saves and closes every open index.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for kbID, idx := range m.indexes {
		if err := idx.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", kbID, err))
		}
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", kbID, err))
		}
	}
	m.indexes = make(map[string]Index)
	return errors.Join(errs...)
}
