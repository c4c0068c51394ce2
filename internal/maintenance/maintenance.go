// Package maintenance re-embeds, clears and rebuilds knowledge base indexes and reports
// statistics.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/storage"
	"github.com/hyperjump/hybridkb/internal/vector"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// Store is the chunk and knowledge base data maintenance reads.
type Store interface {
	ListChunks(ctx context.Context, kbID string) ([]*models.Chunk, error)
	ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error)
}

// KnowledgeBases checks that a knowledge base exists.
type KnowledgeBases interface {
	Require(ctx context.Context, id string) error
}

// Progress receives the number of embedded chunk/provider pairs out of total.
type Progress func(done, total int)

// Maintainer runs maintenance operations. Operations on one knowledge base hold its write
// lock for their whole duration.
type Maintainer struct {
	store     Store
	kbs       KnowledgeBases
	vectors   *vector.Manager
	lexical   *lexical.Manager
	gateway   *embedding.Gateway
	locks     *utils.KeyedMutex
	batchSize int
	diskPaths []string
	logger    *zap.Logger
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Maintainer) { m.logger = l }
}

// WithBatchSize sets how many chunks are embedded per request during a reindex.
func WithBatchSize(n int) Option {
	return func(m *Maintainer) { m.batchSize = n }
}

// WithDiskPaths sets the files and directories counted by Stats.
func WithDiskPaths(paths ...string) Option {
	return func(m *Maintainer) { m.diskPaths = paths }
}

// New creates a Maintainer.
func New(store Store, kbs KnowledgeBases, vectors *vector.Manager, lex *lexical.Manager, gateway *embedding.Gateway, locks *utils.KeyedMutex, opts ...Option) *Maintainer {
	m := &Maintainer{
		store:     store,
		kbs:       kbs,
		vectors:   vectors,
		lexical:   lex,
		gateway:   gateway,
		locks:     locks,
		batchSize: 32,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.batchSize <= 0 {
		m.batchSize = 32
	}
	m.logger = utils.OrNop(m.logger)
	return m
}

// Reindex re-embeds every stored chunk of kbID with each configured provider and replaces
// the partition vectors, creating missing partitions. A partition whose dimension no longer
// matches its provider is recreated. Providers run concurrently and a failing provider
// does not stop the other. It returns how many chunks received at least one new vector.
func (m *Maintainer) Reindex(ctx context.Context, kbID string, progress Progress) (int, error) {
	if err := m.kbs.Require(ctx, kbID); err != nil {
		return 0, err
	}
	unlock := m.locks.Lock(kbID)
	defer unlock()

	chunks, err := m.store.ListChunks(ctx, kbID)
	if err != nil {
		return 0, fmt.Errorf("list chunks of %s: %w", kbID, err)
	}
	var providers []models.Provider
	for _, p := range models.Providers {
		if m.gateway.Configured(p) {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return 0, embedding.ErrNoProviderConfigured
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Content
	}

	total := len(chunks) * len(providers)
	var done atomic.Int64
	report := func(n int) {
		d := done.Add(int64(n))
		if progress != nil {
			progress(int(d), total)
		}
	}

	var (
		mu       sync.Mutex
		embedded = make([]bool, len(chunks))
		errs     []error
		eg       errgroup.Group
	)
	for _, p := range providers {
		p := p
		eg.Go(func() error {
			n, err := m.reindexProvider(ctx, kbID, p, ids, texts, func(start, end int) {
				mu.Lock()
				for i := start; i < end; i++ {
					embedded[i] = true
				}
				mu.Unlock()
				report(end - start)
			})
			if err != nil {
				m.logger.Warn("reindex provider failed",
					zap.String("kb_id", kbID), zap.String("provider", string(p)), zap.Int("embedded", n), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	count := 0
	for _, ok := range embedded {
		if ok {
			count++
		}
	}
	m.logger.Info("reindex finished", zap.String("kb_id", kbID), zap.Int("chunks", count), zap.Int("total", len(chunks)))
	if count == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	if err := ctx.Err(); err != nil {
		return count, err
	}
	return count, nil
}

func (m *Maintainer) reindexProvider(ctx context.Context, kbID string, p models.Provider, ids, texts []string, done func(start, end int)) (int, error) {
	dims := m.gateway.Dimensions(p)
	err := m.vectors.Ensure(ctx, kbID, p, dims)
	if errors.Is(err, vector.ErrDimensionMismatch) {
		m.logger.Warn("recreating partition with new dimension", zap.String("kb_id", kbID), zap.String("provider", string(p)), zap.Int("dims", dims))
		if _, err := m.vectors.Drop(ctx, kbID, p); err != nil {
			return 0, err
		}
		err = m.vectors.Ensure(ctx, kbID, p, dims)
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for start := 0; start < len(ids); start += m.batchSize {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		end := min(start+m.batchSize, len(ids))
		vecs, err := m.gateway.Embed(ctx, p, texts[start:end])
		if err != nil {
			return n, err
		}
		if err := m.vectors.Upsert(ctx, kbID, p, ids[start:end], vecs); err != nil {
			return n, err
		}
		n += end - start
		done(start, end)
	}
	return n, nil
}

// ReindexAll reindexes every knowledge base in turn and returns the per-knowledge-base
// counts. A failing knowledge base is logged and skipped.
func (m *Maintainer) ReindexAll(ctx context.Context, progress Progress) (map[string]int, error) {
	kbs, err := m.store.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(kbs))
	for i, kb := range kbs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, err := m.Reindex(ctx, kb.ID, nil)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			m.logger.Warn("reindex failed", zap.String("kb_id", kb.ID), zap.Error(err))
		}
		out[kb.ID] = n
		if progress != nil {
			progress(i+1, len(kbs))
		}
	}
	return out, nil
}

// ClearEmbeddings drops both vector partitions of kbID. Chunks and the lexical index are
// kept so a later Reindex can restore the vectors.
func (m *Maintainer) ClearEmbeddings(ctx context.Context, kbID string) (*models.ClearResult, error) {
	if err := m.kbs.Require(ctx, kbID); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(kbID)
	defer unlock()

	res := &models.ClearResult{}
	for _, p := range models.Providers {
		dropped, err := m.vectors.Drop(ctx, kbID, p)
		if err != nil {
			return res, err
		}
		if p == models.ProviderLocal {
			res.Local = dropped
		} else {
			res.Cloud = dropped
		}
	}
	m.vectors.Evict(kbID)
	m.logger.Info("embeddings cleared", zap.String("kb_id", kbID), zap.Bool("local", res.Local), zap.Bool("cloud", res.Cloud))
	return res, nil
}

// RebuildLexical rebuilds the lexical index of kbID from the chunk store.
func (m *Maintainer) RebuildLexical(ctx context.Context, kbID string) (int, error) {
	if err := m.kbs.Require(ctx, kbID); err != nil {
		return 0, err
	}
	unlock := m.locks.Lock(kbID)
	defer unlock()
	n, err := m.lexical.Rebuild(ctx, kbID)
	if err != nil {
		return 0, fmt.Errorf("rebuild lexical index of %s: %w", kbID, err)
	}
	m.logger.Info("lexical index rebuilt", zap.String("kb_id", kbID), zap.Int("chunks", n))
	return n, nil
}

// RebuildAllLexical rebuilds every knowledge base's lexical index and returns the total
// number of indexed chunks.
func (m *Maintainer) RebuildAllLexical(ctx context.Context) (int, error) {
	kbs, err := m.store.ListKnowledgeBases(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, kb := range kbs {
		n, err := m.RebuildLexical(ctx, kb.ID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Stats aggregates chunk, document and vector counts over all knowledge bases.
func (m *Maintainer) Stats(ctx context.Context) (*models.Stats, error) {
	kbs, err := m.store.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, err
	}
	st := &models.Stats{
		KnowledgeBaseCount: len(kbs),
		KnowledgeBases:     make([]models.KnowledgeBaseStats, 0, len(kbs)),
	}
	for _, kb := range kbs {
		local, err := m.vectors.Count(ctx, kb.ID, models.ProviderLocal)
		if err != nil {
			return nil, err
		}
		cloud, err := m.vectors.Count(ctx, kb.ID, models.ProviderCloud)
		if err != nil {
			return nil, err
		}
		st.TotalChunks += kb.ChunkCount
		st.TotalDocuments += kb.DocumentCount
		st.KnowledgeBases = append(st.KnowledgeBases, models.KnowledgeBaseStats{
			ID:            kb.ID,
			Name:          kb.Name,
			ChunkCount:    kb.ChunkCount,
			DocumentCount: kb.DocumentCount,
			LocalVectors:  local,
			CloudVectors:  cloud,
		})
	}
	usage, err := storage.DiskUsageBytes(m.diskPaths...)
	if err != nil {
		m.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	st.DiskUsageBytes = usage
	return st, nil
}
