// Package search answers queries with vector, lexical, hybrid (RRF) and full-text retrieval
// over one or more knowledge bases.
package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/ranking"
	"github.com/hyperjump/hybridkb/internal/vector"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// ChunkReader loads chunk content for hits.
type ChunkReader interface {
	GetChunks(ctx context.Context, kbID string, ids []string) (map[string]*models.Chunk, error)
	SearchContent(ctx context.Context, kbIDs []string, substr string, limit int) ([]*models.Chunk, error)
}

// KnowledgeBaseIDs lists the existing knowledge bases.
type KnowledgeBaseIDs interface {
	IDs(ctx context.Context) ([]string, error)
}

// Engine runs searches across knowledge bases.
type Engine struct {
	store     ChunkReader
	kbs       KnowledgeBaseIDs
	vectors   *vector.Manager
	lexical   *lexical.Manager
	gateway   *embedding.Gateway
	expander  *Expander
	reranker  *ranking.Reranker
	config    config.RAGConfig
	citations map[string]bool
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for degraded legs.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithReranker replaces the default reranker.
func WithReranker(r *ranking.Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// NewEngine creates a search engine. citationKBs limits citation boosts to queries that
// target one of them; empty means always.
func NewEngine(
	store ChunkReader,
	kbs KnowledgeBaseIDs,
	vectors *vector.Manager,
	lex *lexical.Manager,
	gateway *embedding.Gateway,
	expander *Expander,
	cfg config.RAGConfig,
	citationKBs []string,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:     store,
		kbs:       kbs,
		vectors:   vectors,
		lexical:   lex,
		gateway:   gateway,
		expander:  expander,
		config:    cfg,
		citations: make(map[string]bool, len(citationKBs)),
	}
	for _, kb := range citationKBs {
		e.citations[kb] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reranker == nil {
		e.reranker = ranking.NewReranker(nil)
	}
	if e.expander == nil {
		e.expander = NewExpander(config.ExpansionConfig{})
	}
	if e.config.RRFK <= 0 {
		e.config.RRFK = 60
	}
	if e.config.CandidateMultiplier <= 0 {
		e.config.CandidateMultiplier = 3
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Run validates q, fills defaults and dispatches it to the retrieval path of its mode.
func (e *Engine) Run(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.config.TopK, e.config.MaxTopK); err != nil {
		return nil, err
	}
	provider, _ := models.ParseProvider(q.Provider)
	resp := &models.SearchResponse{Mode: q.Mode, Query: q.Query}

	var err error
	switch q.Mode {
	case models.ModeVector:
		resp.Results, resp.Provider, err = e.Search(ctx, q.Query, q.KnowledgeBases, q.TopK, provider)
	case models.ModeLexical:
		resp.Results, err = e.LexicalSearch(ctx, q.Query, q.KnowledgeBases, q.TopK)
	case models.ModeFulltext:
		resp.Results, err = e.FulltextSearch(ctx, q.Query, q.KnowledgeBases, q.TopK)
	default:
		var out *HybridOutcome
		out, err = e.HybridSearch(ctx, e.HybridQuery(q, provider))
		if out != nil {
			resp.Results, resp.Provider = out.Results, out.Provider
			if q.Debug {
				resp.Expansion = out.Expansion
				resp.Rerank = out.Rerank
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []*models.SearchResult{}
	}
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// HybridQuery resolves a validated SearchQuery against the configured defaults.
func (e *Engine) HybridQuery(q *models.SearchQuery, provider models.Provider) models.HybridQuery {
	hq := models.HybridQuery{
		Query:          q.Query,
		KnowledgeBases: q.KnowledgeBases,
		TopK:           q.TopK,
		VectorWeight:   e.config.VectorWeight,
		LexicalWeight:  e.config.LexicalWeight,
		Expand:         true,
		Rerank:         true,
		Provider:       provider,
	}
	if q.VectorWeight != nil {
		hq.VectorWeight = *q.VectorWeight
	}
	if q.LexicalWeight != nil {
		hq.LexicalWeight = *q.LexicalWeight
	}
	if q.Expand != nil {
		hq.Expand = *q.Expand
	}
	if q.Rerank != nil {
		hq.Rerank = *q.Rerank
	}
	return hq
}

// resolve returns the existing knowledge bases among kbIDs, or all of them when kbIDs is
// empty. Unknown ids are dropped.
func (e *Engine) resolve(ctx context.Context, kbIDs []string) ([]string, error) {
	all, err := e.kbs.IDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(kbIDs) == 0 {
		return all, nil
	}
	exists := make(map[string]bool, len(all))
	for _, id := range all {
		exists[id] = true
	}
	out := make([]string, 0, len(kbIDs))
	for _, id := range kbIDs {
		if exists[id] {
			out = append(out, id)
			delete(exists, id)
		}
	}
	return out, nil
}

// Search is vector retrieval with one provider. Auto resolves to the search provider and
// falls back to the other provider when the preferred one is unavailable. It returns
// ErrNoProviderConfigured when no embedding provider exists at all.
func (e *Engine) Search(ctx context.Context, query string, kbIDs []string, topK int, provider models.Provider) ([]*models.SearchResult, models.Provider, error) {
	kbs, err := e.resolve(ctx, kbIDs)
	if err != nil {
		return nil, "", err
	}
	cands, used, err := e.vectorCandidates(ctx, query, kbs, topK, provider)
	if err != nil {
		if errors.Is(err, embedding.ErrNoProviderConfigured) || errors.Is(err, embedding.ErrProviderNotConfigured) {
			return nil, used, err
		}
		e.logger.Warn("vector search degraded", zap.String("provider", string(used)), zap.Error(err))
		return []*models.SearchResult{}, used, nil
	}
	results, err := e.hydrate(ctx, cands, func(r *models.SearchResult, i int) {
		r.Score = cands[i].Score
		r.VectorScore = cands[i].Score
	})
	return results, used, err
}

func (e *Engine) vectorCandidates(ctx context.Context, query string, kbs []string, k int, provider models.Provider) ([]Candidate, models.Provider, error) {
	auto := provider == "" || provider == models.ProviderAuto
	vec, used, err := e.gateway.EmbedSingle(ctx, query, provider)
	if err != nil && auto && errors.Is(err, embedding.ErrProviderUnavailable) {
		fallback := models.ProviderLocal
		if used == models.ProviderLocal {
			fallback = models.ProviderCloud
		}
		if e.gateway.Configured(fallback) {
			e.logger.Debug("search provider unavailable, falling back", zap.String("provider", string(fallback)))
			vec, used, err = e.gateway.EmbedSingle(ctx, query, fallback)
		}
	}
	if err != nil {
		return nil, used, err
	}

	var out []Candidate
	for _, kb := range kbs {
		hits, err := e.vectors.Search(ctx, kb, used, vec, k)
		if err != nil {
			e.logger.Warn("partition search failed", zap.String("kb_id", kb), zap.String("provider", string(used)), zap.Error(err))
			continue
		}
		for _, h := range hits {
			out = append(out, Candidate{KnowledgeBaseID: kb, ChunkID: h.ID, Score: h.Score})
		}
	}
	return topCandidates(out, k), used, nil
}

// LexicalSearch is BM25 retrieval. Scores are normalised by the best hit; LexicalScore
// keeps the raw value.
func (e *Engine) LexicalSearch(ctx context.Context, query string, kbIDs []string, topK int) ([]*models.SearchResult, error) {
	kbs, err := e.resolve(ctx, kbIDs)
	if err != nil {
		return nil, err
	}
	cands := e.lexicalCandidates(ctx, query, kbs, topK)
	norm := normalizeByMax(cands)
	return e.hydrate(ctx, cands, func(r *models.SearchResult, i int) {
		r.Score = norm[i]
		r.LexicalScore = cands[i].Score
	})
}

func (e *Engine) lexicalCandidates(ctx context.Context, query string, kbs []string, k int) []Candidate {
	var out []Candidate
	for _, kb := range kbs {
		idx, err := e.lexical.Get(ctx, kb)
		if err != nil {
			e.logger.Warn("lexical index unavailable", zap.String("kb_id", kb), zap.Error(err))
			continue
		}
		hits, err := idx.Search(ctx, query, k)
		if err != nil {
			e.logger.Warn("lexical search failed", zap.String("kb_id", kb), zap.Error(err))
			continue
		}
		for _, h := range hits {
			out = append(out, Candidate{KnowledgeBaseID: kb, ChunkID: h.ID, Score: h.Score})
		}
	}
	return topCandidates(out, k)
}

// HybridOutcome is the result of a hybrid search with its debugging details.
type HybridOutcome struct {
	Results   []*models.SearchResult
	Provider  models.Provider
	Expansion *models.ExpansionInfo
	Rerank    *models.RerankStats
}

// HybridSearch expands the query, runs the vector and lexical legs concurrently with
// top_k*candidate_multiplier candidates each, fuses them with RRF and re-ranks the top_k.
// A leg with weight 0 is not run; a failing leg contributes an empty list.
func (e *Engine) HybridSearch(ctx context.Context, q models.HybridQuery) (*HybridOutcome, error) {
	if q.TopK <= 0 {
		q.TopK = e.config.TopK
	}
	kbs, err := e.resolve(ctx, q.KnowledgeBases)
	if err != nil {
		return nil, err
	}
	out := &HybridOutcome{
		Expansion: &models.ExpansionInfo{OriginalQuery: q.Query, ExpandedQuery: q.Query},
		Provider:  e.gateway.Resolve(q.Provider),
	}
	if q.Expand {
		out.Expansion = e.expander.Expand(q.Query, q.KnowledgeBases)
	}
	query := out.Expansion.ExpandedQuery
	k := q.TopK * e.config.CandidateMultiplier

	var vecCands, lexCands []Candidate
	var eg errgroup.Group
	if q.VectorWeight > 0 {
		eg.Go(func() error {
			cands, used, err := e.vectorCandidates(ctx, query, kbs, k, q.Provider)
			out.Provider = used
			if err != nil {
				e.logger.Warn("vector leg failed", zap.String("provider", string(used)), zap.Error(err))
				return nil
			}
			vecCands = cands
			return nil
		})
	}
	if q.LexicalWeight > 0 {
		eg.Go(func() error {
			lexCands = e.lexicalCandidates(ctx, query, kbs, k)
			return nil
		})
	}
	_ = eg.Wait()

	fused := FuseRRF([]RankedList{
		{Weight: q.VectorWeight, Items: vecCands},
		{Weight: q.LexicalWeight, Items: lexCands},
	}, e.config.RRFK)
	cands := make([]Candidate, len(fused))
	for i, f := range fused {
		cands[i] = f.Candidate
	}
	results, err := e.hydrate(ctx, cands, func(r *models.SearchResult, i int) {
		r.Score = fused[i].Score
		r.VectorScore = fused[i].LegScores[0]
		r.LexicalScore = fused[i].LegScores[1]
	})
	if err != nil {
		return nil, err
	}
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	if q.Rerank {
		e.reranker.Rerank(q.Query, results, e.citationsEnabled(kbs))
		out.Rerank = ranking.Stats(results)
	}
	out.Results = results
	return out, nil
}

func (e *Engine) citationsEnabled(kbs []string) bool {
	if len(e.citations) == 0 {
		return true
	}
	for _, kb := range kbs {
		if e.citations[kb] {
			return true
		}
	}
	return false
}

// FulltextSearch returns chunks containing query as a substring (case-insensitive for
// ASCII), each with score 1.0.
func (e *Engine) FulltextSearch(ctx context.Context, query string, kbIDs []string, limit int) ([]*models.SearchResult, error) {
	kbs, err := e.resolve(ctx, kbIDs)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.config.TopK
	}
	chunks, err := e.store.SearchContent(ctx, kbs, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]*models.SearchResult, 0, len(chunks))
	for i, c := range chunks {
		results = append(results, chunkResult(c, 1.0, i+1))
	}
	return results, nil
}

// hydrate loads chunk content for candidates in order, dropping candidates whose chunk no
// longer exists. fill receives each surviving result with its candidate's index.
func (e *Engine) hydrate(ctx context.Context, cands []Candidate, fill func(r *models.SearchResult, i int)) ([]*models.SearchResult, error) {
	byKB := make(map[string][]string)
	for _, c := range cands {
		byKB[c.KnowledgeBaseID] = append(byKB[c.KnowledgeBaseID], c.ChunkID)
	}
	chunks := make(map[string]map[string]*models.Chunk, len(byKB))
	for kb, ids := range byKB {
		m, err := e.store.GetChunks(ctx, kb, ids)
		if err != nil {
			return nil, err
		}
		chunks[kb] = m
	}
	results := make([]*models.SearchResult, 0, len(cands))
	for i, c := range cands {
		chunk, ok := chunks[c.KnowledgeBaseID][c.ChunkID]
		if !ok {
			e.logger.Debug("dropping stale hit", zap.String("kb_id", c.KnowledgeBaseID), zap.String("chunk_id", c.ChunkID))
			continue
		}
		r := chunkResult(chunk, 0, len(results)+1)
		fill(r, i)
		results = append(results, r)
	}
	return results, nil
}

func chunkResult(c *models.Chunk, score float64, rank int) *models.SearchResult {
	return &models.SearchResult{
		ChunkID:         c.ID,
		KnowledgeBaseID: c.KnowledgeBaseID,
		Content:         c.Content,
		Score:           score,
		Metadata:        c.Metadata,
		Rank:            rank,
	}
}

// topCandidates sorts candidates by score (stable, so earlier knowledge bases win ties)
// and keeps the best k.
func topCandidates(cands []Candidate, k int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
