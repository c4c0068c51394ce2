// Package retrieval wires storage, embedding, partitions, lexical indexes, search,
// maintenance and background jobs into a single service.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/indexer"
	"github.com/hyperjump/hybridkb/internal/jobs"
	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/internal/maintenance"
	"github.com/hyperjump/hybridkb/internal/metrics"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/registry"
	"github.com/hyperjump/hybridkb/internal/search"
	"github.com/hyperjump/hybridkb/internal/storage"
	"github.com/hyperjump/hybridkb/internal/vector"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// ErrMissingParam is returned when a job is submitted without a required parameter.
var ErrMissingParam = errors.New("missing job parameter")

// Service is the entry point for every retrieval operation.
type Service struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	gateway  *embedding.Gateway
	vectors  *vector.Manager
	lexical  *lexical.Manager
	registry *registry.Registry
	indexer  *indexer.Indexer
	engine   *search.Engine
	maint    *maintenance.Maintainer
	jobs     *jobs.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Open builds a Service from cfg. Defaults are applied to cfg, the configured knowledge
// bases are seeded, and jobs left over from a previous process are marked failed.
func Open(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults(cfg)
	logger = utils.OrNop(logger)
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	gateway, err := embedding.NewFromConfig(&cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		metrics: metrics.New(),
		logger:  logger,
	}
	gateway.OnFailure(func(p models.Provider) { s.metrics.EmbeddingFailed(string(p)) })

	locks := utils.NewKeyedMutex()
	s.vectors = vector.NewManager(store, cfg.RAG.CollectionPrefix, cfg.RAG.SimilarityThreshold, vector.WithLogger(logger))
	s.lexical = lexical.NewManager(cfg.Storage.LexicalIndexDir, cfg.Lexical.Backend, store, lexical.WithLogger(logger))
	s.registry = registry.New(store, s.vectors, s.lexical, gateway, locks, logger)
	s.indexer = indexer.NewIndexer(
		store, s.registry, s.vectors, s.lexical, gateway, locks,
		indexer.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.CharsPerToken),
		indexer.WithLogger(logger),
	)
	s.engine = search.NewEngine(
		store, s.registry, s.vectors, s.lexical, gateway,
		search.NewExpander(cfg.Expansion), cfg.RAG, cfg.Rerank.CitationKnowledgeBases,
		search.WithLogger(logger),
	)

	diskPaths := append(storage.DatabaseFiles(cfg.Storage.DatabasePath), cfg.Storage.LexicalIndexDir)
	s.maint = maintenance.New(
		store, s.registry, s.vectors, s.lexical, gateway, locks,
		maintenance.WithLogger(logger),
		maintenance.WithBatchSize(cfg.Embedding.BatchSize),
		maintenance.WithDiskPaths(diskPaths...),
	)

	s.jobs = jobs.NewManager(store,
		jobs.WithLogger(logger),
		jobs.WithFinishHook(func(j *models.Job) { s.metrics.JobFinished(j.Type, string(j.Status)) }),
	)
	s.registerJobs()

	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	if _, err := s.jobs.Recover(ctx); err != nil {
		return err
	}
	if n, err := s.jobs.Cleanup(ctx, s.cfg.Jobs.Retention); err != nil {
		s.logger.Warn("job cleanup failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("purged old jobs", zap.Int64("jobs", n))
	}
	created, err := s.registry.EnsureDefaults(ctx, s.cfg.KnowledgeBases)
	if err != nil {
		return fmt.Errorf("failed to seed knowledge bases: %w", err)
	}
	if created > 0 {
		s.logger.Info("seeded knowledge bases", zap.Int("created", created))
	}
	return nil
}

// Close cancels running jobs and releases the lexical indexes, embedders and database.
func (s *Service) Close() error {
	if s.jobs != nil {
		s.jobs.Close()
	}
	var errs []error
	if s.lexical != nil {
		errs = append(errs, s.lexical.Close())
	}
	if s.gateway != nil {
		errs = append(errs, s.gateway.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Metrics returns the service metrics.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// CreateKnowledgeBase registers a knowledge base and its partitions.
func (s *Service) CreateKnowledgeBase(ctx context.Context, id, name, description, icon string) (*models.KnowledgeBase, error) {
	return s.registry.Create(ctx, id, name, description, icon)
}

// GetKnowledgeBase returns one knowledge base with its counts.
func (s *Service) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	return s.registry.Get(ctx, id)
}

// ListKnowledgeBases returns every knowledge base.
func (s *Service) ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error) {
	return s.registry.List(ctx)
}

// DeleteKnowledgeBase removes a knowledge base with its chunks, partitions and lexical
// index. It reports whether the knowledge base existed.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, id string) (bool, error) {
	return s.registry.Delete(ctx, id)
}

// EmbeddingStatus reports vector counts and provider health for a knowledge base.
func (s *Service) EmbeddingStatus(ctx context.Context, id string) (*models.EmbeddingStatus, error) {
	return s.registry.EmbeddingStatus(ctx, id)
}

// AddDocument ingests doc into kbID.
func (s *Service) AddDocument(ctx context.Context, kbID string, doc *models.ProcessedDocument) (*models.IngestResult, error) {
	res, err := s.indexer.AddDocument(ctx, kbID, doc)
	s.observeIngest(kbID, res, err)
	return res, err
}

// IngestFile loads a text or JSON file and ingests it into kbID.
func (s *Service) IngestFile(ctx context.Context, kbID, path string) (*models.IngestResult, error) {
	res, err := s.indexer.IngestFile(ctx, kbID, path)
	s.observeIngest(kbID, res, err)
	return res, err
}

// IngestDirectory ingests every file under dir with a configured watch extension.
func (s *Service) IngestDirectory(ctx context.Context, kbID, dir string) (int, error) {
	n, err := s.indexer.IngestDirectory(ctx, kbID, dir, s.cfg.Watch.Extensions)
	for i := 0; i < n; i++ {
		s.metrics.ObserveIngest(kbID, "indexed")
	}
	return n, err
}

func (s *Service) observeIngest(kbID string, res *models.IngestResult, err error) {
	switch {
	case err != nil:
		s.metrics.ObserveIngest(kbID, "failed")
	case res.Skipped && !res.Local && !res.Cloud:
		s.metrics.ObserveIngest(kbID, "skipped")
	default:
		s.metrics.ObserveIngest(kbID, "indexed")
		if res.Local {
			s.metrics.AddEmbedded(string(models.ProviderLocal), res.Chunks)
		}
		if res.Cloud {
			s.metrics.AddEmbedded(string(models.ProviderCloud), res.Chunks)
		}
	}
}

// RemoveDocument deletes every chunk, vector and lexical entry of filename.
func (s *Service) RemoveDocument(ctx context.Context, kbID, filename string) (bool, error) {
	return s.indexer.RemoveDocument(ctx, kbID, filename)
}

// ListDocuments lists the documents of kbID.
func (s *Service) ListDocuments(ctx context.Context, kbID string) ([]*models.DocumentInfo, error) {
	return s.indexer.ListDocuments(ctx, kbID)
}

// DocumentExists reports whether filename has chunks in kbID.
func (s *Service) DocumentExists(ctx context.Context, kbID, filename string) (bool, error) {
	return s.indexer.DocumentExists(ctx, kbID, filename)
}

// DocumentHash returns the stored content hash of filename.
func (s *Service) DocumentHash(ctx context.Context, kbID, filename string) (string, error) {
	return s.indexer.DocumentHash(ctx, kbID, filename)
}

// NeedsReembedding reports whether filename is missing or stored with another hash.
func (s *Service) NeedsReembedding(ctx context.Context, kbID, filename, hash string) (bool, error) {
	return s.indexer.NeedsReembedding(ctx, kbID, filename, hash)
}

// DocumentChunks returns the chunks of filename in order.
func (s *Service) DocumentChunks(ctx context.Context, kbID, filename string) ([]*models.Chunk, error) {
	return s.indexer.DocumentChunks(ctx, kbID, filename)
}

// Run executes a search request in any mode.
func (s *Service) Run(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	resp, err := s.engine.Run(ctx, q)
	n := 0
	if resp != nil {
		n = resp.Total
	}
	s.metrics.ObserveSearch(string(q.Mode), time.Since(start), n, err)
	return resp, err
}

// Search runs a vector search. topK <= 0 uses the configured default.
func (s *Service) Search(ctx context.Context, query string, kbIDs []string, topK int, provider models.Provider) ([]*models.SearchResult, error) {
	start := time.Now()
	res, _, err := s.engine.Search(ctx, query, kbIDs, s.topK(topK), provider)
	s.metrics.ObserveSearch(string(models.ModeVector), time.Since(start), len(res), err)
	return res, err
}

// LexicalSearch runs a keyword search.
func (s *Service) LexicalSearch(ctx context.Context, query string, kbIDs []string, topK int) ([]*models.SearchResult, error) {
	start := time.Now()
	res, err := s.engine.LexicalSearch(ctx, query, kbIDs, s.topK(topK))
	s.metrics.ObserveSearch(string(models.ModeLexical), time.Since(start), len(res), err)
	return res, err
}

// HybridSearch fuses vector and lexical results with RRF and re-ranks them.
func (s *Service) HybridSearch(ctx context.Context, q models.HybridQuery) ([]*models.SearchResult, error) {
	start := time.Now()
	out, err := s.engine.HybridSearch(ctx, q)
	var res []*models.SearchResult
	if out != nil {
		res = out.Results
	}
	s.metrics.ObserveSearch(string(models.ModeHybrid), time.Since(start), len(res), err)
	return res, err
}

// FulltextSearch returns chunks containing query as a substring.
func (s *Service) FulltextSearch(ctx context.Context, query string, kbIDs []string) ([]*models.SearchResult, error) {
	start := time.Now()
	res, err := s.engine.FulltextSearch(ctx, query, kbIDs, s.cfg.RAG.TopK)
	s.metrics.ObserveSearch(string(models.ModeFulltext), time.Since(start), len(res), err)
	return res, err
}

// DefaultHybridQuery returns a hybrid query for query with the configured weights and
// expansion and re-ranking enabled.
func (s *Service) DefaultHybridQuery(query string, kbIDs []string, topK int) models.HybridQuery {
	return models.HybridQuery{
		Query:          query,
		KnowledgeBases: kbIDs,
		TopK:           s.topK(topK),
		VectorWeight:   s.cfg.RAG.VectorWeight,
		LexicalWeight:  s.cfg.RAG.LexicalWeight,
		Expand:         true,
		Rerank:         true,
		Provider:       models.ProviderAuto,
	}
}

func (s *Service) topK(k int) int {
	if k <= 0 {
		return s.cfg.RAG.TopK
	}
	return min(k, s.cfg.RAG.MaxTopK)
}

// ReindexKnowledgeBase re-embeds every chunk of kbID and returns how many chunks received
// at least one vector.
func (s *Service) ReindexKnowledgeBase(ctx context.Context, kbID string, progress maintenance.Progress) (int, error) {
	return s.maint.Reindex(ctx, kbID, progress)
}

// ReindexAll reindexes every knowledge base.
func (s *Service) ReindexAll(ctx context.Context, progress maintenance.Progress) (map[string]int, error) {
	return s.maint.ReindexAll(ctx, progress)
}

// ClearEmbeddings drops both vector partitions of kbID.
func (s *Service) ClearEmbeddings(ctx context.Context, kbID string) (*models.ClearResult, error) {
	res, err := s.maint.ClearEmbeddings(ctx, kbID)
	if err == nil {
		s.gateway.PurgeCache(models.ProviderLocal)
		s.gateway.PurgeCache(models.ProviderCloud)
	}
	return res, err
}

// RebuildLexical rebuilds the lexical index of kbID, or of every knowledge base when kbID
// is empty.
func (s *Service) RebuildLexical(ctx context.Context, kbID string) (int, error) {
	if kbID == "" {
		return s.maint.RebuildAllLexical(ctx)
	}
	return s.maint.RebuildLexical(ctx, kbID)
}

// Stats aggregates counts and disk usage.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	return s.maint.Stats(ctx)
}

// ProviderInfo describes one embedding provider.
type ProviderInfo struct {
	Provider   models.Provider `json:"provider"`
	Configured bool            `json:"configured"`
	Enabled    bool            `json:"enabled"`
	Dimensions int             `json:"dimensions"`
	Health     string          `json:"health"`
	Search     bool            `json:"search"`
}

// Providers reports the configuration and cached health of both providers. With probe
// set, configured providers are checked first.
func (s *Service) Providers(ctx context.Context, probe bool) []ProviderInfo {
	if probe {
		s.gateway.Probe(ctx)
	}
	searchProvider := s.gateway.Resolve(models.ProviderAuto)
	out := make([]ProviderInfo, 0, len(models.Providers))
	for _, p := range models.Providers {
		enabled := s.cfg.Embedding.LocalEnabled()
		if p == models.ProviderCloud {
			enabled = s.cfg.Embedding.CloudEnabled()
		}
		out = append(out, ProviderInfo{
			Provider:   p,
			Configured: s.gateway.Configured(p),
			Enabled:    enabled,
			Dimensions: s.gateway.Dimensions(p),
			Health:     s.gateway.Health(p).String(),
			Search:     p == searchProvider,
		})
	}
	return out
}
