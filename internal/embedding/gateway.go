package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// GatewayOptions configures a Gateway. A nil embedder means the provider is not configured.
type GatewayOptions struct {
	Local          Embedder
	Cloud          Embedder
	SearchProvider models.Provider
	HealthTTL      time.Duration
	CacheSize      int
	BatchSize      int
	Logger         *zap.Logger
}

// Gateway fronts the two embedding providers.
type Gateway struct {
	embedders      map[models.Provider]Embedder
	searchProvider models.Provider
	health         *HealthTracker
	cache          *EmbeddingCache
	batchSize      int
	onFailure      func(models.Provider)
	logger         *zap.Logger
}

// DualResult holds per-provider vectors from EmbedDual. A nil slice means the provider
// was skipped or failed; the matching error says why.
type DualResult struct {
	Local    [][]float32
	Cloud    [][]float32
	LocalErr error
	CloudErr error
}

// LocalAvailable reports whether local vectors were produced.
func (r DualResult) LocalAvailable() bool { return r.Local != nil }

// CloudAvailable reports whether cloud vectors were produced.
func (r DualResult) CloudAvailable() bool { return r.Cloud != nil }

// Err returns the provider errors joined, or nil.
func (r DualResult) Err() error { return errors.Join(r.LocalErr, r.CloudErr) }

// For returns the vectors produced by p.
func (r DualResult) For(p models.Provider) [][]float32 {
	if p == models.ProviderLocal {
		return r.Local
	}
	return r.Cloud
}

// NewGateway builds a gateway around the given embedders.
func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		embedders:      make(map[models.Provider]Embedder),
		searchProvider: opts.SearchProvider,
		health:         NewHealthTracker(opts.HealthTTL),
		cache:          NewEmbeddingCache(opts.CacheSize),
		batchSize:      opts.BatchSize,
		logger:         utils.OrNop(opts.Logger),
	}
	if opts.Local != nil {
		g.embedders[models.ProviderLocal] = opts.Local
	}
	if opts.Cloud != nil {
		g.embedders[models.ProviderCloud] = opts.Cloud
	}
	if g.searchProvider == "" || g.searchProvider == models.ProviderAuto {
		g.searchProvider = models.ProviderCloud
	}
	if g.batchSize <= 0 {
		g.batchSize = 32
	}
	return g
}

// Configured reports whether p has an embedder.
func (g *Gateway) Configured(p models.Provider) bool {
	_, ok := g.embedders[p]
	return ok
}

// Dimensions returns the vector dimension of p, or 0 when p is not configured.
func (g *Gateway) Dimensions(p models.Provider) int {
	if e, ok := g.embedders[p]; ok {
		return e.Dimensions()
	}
	return 0
}

// Resolve maps auto to the configured search provider.
func (g *Gateway) Resolve(p models.Provider) models.Provider {
	if p == "" || p == models.ProviderAuto {
		return g.searchProvider
	}
	return p
}

// Health returns the cached state of p.
func (g *Gateway) Health(p models.Provider) HealthState {
	return g.health.State(p)
}

// EmbedDual embeds texts with the given providers (every configured one when none are
// named) concurrently. Provider failures are logged and recorded in the result, never
// returned: one provider failing does not affect the other.
func (g *Gateway) EmbedDual(ctx context.Context, texts []string, providers ...models.Provider) DualResult {
	if len(providers) == 0 {
		providers = models.Providers
	}
	var res DualResult
	set := func(p models.Provider, vecs [][]float32, err error) {
		if p == models.ProviderLocal {
			res.Local, res.LocalErr = vecs, err
		} else {
			res.Cloud, res.CloudErr = vecs, err
		}
	}

	var eg errgroup.Group
	for _, p := range providers {
		if !g.Configured(p) {
			set(p, nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p))
			continue
		}
		if g.health.Skip(p) {
			g.logger.Debug("skipping provider marked unavailable", zap.String("provider", string(p)))
			set(p, nil, fmt.Errorf("%w: %s (cached)", ErrProviderUnavailable, p))
			continue
		}
		p := p
		eg.Go(func() error {
			vecs, err := g.Embed(ctx, p, texts)
			if err != nil {
				g.logger.Warn("embedding failed", zap.String("provider", string(p)), zap.Error(err))
			}
			set(p, vecs, err)
			return nil
		})
	}
	_ = eg.Wait()
	return res
}

// Embed embeds texts with one provider in batches and records the provider's health.
func (g *Gateway) Embed(ctx context.Context, p models.Provider, texts []string) ([][]float32, error) {
	e, ok := g.embedders[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			g.health.Record(p, HealthUnavailable)
			if g.onFailure != nil {
				g.onFailure(p)
			}
			if !errors.Is(err, ErrProviderUnavailable) {
				err = unavailable(string(p), err)
			}
			return nil, err
		}
		out = append(out, vecs...)
	}
	g.health.Record(p, HealthAvailable)
	return out, nil
}

// EmbedSingle embeds a query with p, using the query cache. Auto resolves to the search
// provider, or to the other provider when that one is not configured. It returns the
// provider actually used.
func (g *Gateway) EmbedSingle(ctx context.Context, text string, p models.Provider) ([]float32, models.Provider, error) {
	if len(g.embedders) == 0 {
		return nil, g.Resolve(p), ErrNoProviderConfigured
	}
	auto := p == "" || p == models.ProviderAuto
	p = g.Resolve(p)
	if !g.Configured(p) {
		if !auto {
			return nil, p, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p)
		}
		p = other(p)
	}
	if vec, ok := g.cache.Get(p, text); ok {
		return vec, p, nil
	}
	if g.health.Skip(p) {
		return nil, p, fmt.Errorf("%w: %s", ErrProviderUnavailable, p)
	}
	vecs, err := g.Embed(ctx, p, []string{text})
	if err != nil {
		return nil, p, err
	}
	g.cache.Set(p, text, vecs[0])
	return vecs[0], p, nil
}

// Probe checks every configured provider, using Ping when available and a one-word embed
// otherwise, and records the result.
func (g *Gateway) Probe(ctx context.Context) map[models.Provider]HealthState {
	out := make(map[models.Provider]HealthState, len(g.embedders))
	for p, e := range g.embedders {
		var err error
		if pinger, ok := e.(Pinger); ok {
			err = pinger.Ping(ctx)
		} else {
			_, err = e.Embed(ctx, []string{"ping"})
		}
		state := HealthAvailable
		if err != nil {
			state = HealthUnavailable
			g.logger.Debug("provider probe failed", zap.String("provider", string(p)), zap.Error(err))
		}
		g.health.Record(p, state)
		out[p] = state
	}
	return out
}

// Available reports whether p is configured and not known to be unavailable. Unknown
// health triggers a probe.
func (g *Gateway) Available(ctx context.Context, p models.Provider) bool {
	if !g.Configured(p) {
		return false
	}
	switch g.health.State(p) {
	case HealthAvailable:
		return true
	case HealthUnavailable:
		return false
	}
	return g.Probe(ctx)[p] == HealthAvailable
}

// OnFailure registers fn to be called whenever a provider call fails. It must be set
// before the gateway is used concurrently.
func (g *Gateway) OnFailure(fn func(models.Provider)) {
	g.onFailure = fn
}

// PurgeCache drops cached query vectors for p.
func (g *Gateway) PurgeCache(p models.Provider) {
	g.cache.Purge(p)
}

// Close closes every embedder.
func (g *Gateway) Close() error {
	var errs []error
	for _, e := range g.embedders {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

func other(p models.Provider) models.Provider {
	if p == models.ProviderLocal {
		return models.ProviderCloud
	}
	return models.ProviderLocal
}
