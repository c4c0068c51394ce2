// Package registry manages knowledge bases: their metadata rows, their vector
// partitions and their lexical indexes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/storage"
	"github.com/hyperjump/hybridkb/internal/vector"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

var (
	// ErrKnowledgeBaseNotFound is returned for operations on an unknown knowledge base.
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	// ErrInvalidID is returned when a knowledge base id is not a lowercase slug.
	ErrInvalidID = errors.New("invalid knowledge base id")
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateID checks that id is a lowercase slug.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Store is the metadata and chunk persistence the registry needs.
type Store interface {
	UpsertKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id string) (bool, error)
	DeleteKnowledgeBaseChunks(ctx context.Context, kbID string) (int64, error)
}

// Registry creates, lists and deletes knowledge bases.
type Registry struct {
	store   Store
	vectors *vector.Manager
	lexical *lexical.Manager
	gateway *embedding.Gateway
	locks   *utils.KeyedMutex
	logger  *zap.Logger
}

// New returns a registry. locks is shared with every component writing to a knowledge base.
func New(store Store, vectors *vector.Manager, lex *lexical.Manager, gateway *embedding.Gateway, locks *utils.KeyedMutex, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		vectors: vectors,
		lexical: lex,
		gateway: gateway,
		locks:   locks,
		logger:  utils.OrNop(logger),
	}
}

// Create registers a knowledge base, or updates its metadata when it already exists, and
// makes sure a partition exists for every configured provider.
func (r *Registry) Create(ctx context.Context, id, name, description, icon string) (*models.KnowledgeBase, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if name == "" {
		name = id
	}
	unlock := r.locks.Lock(id)
	defer unlock()

	kb := &models.KnowledgeBase{ID: id, Name: name, Description: description, Icon: icon}
	if err := r.store.UpsertKnowledgeBase(ctx, kb); err != nil {
		return nil, err
	}
	if err := r.EnsurePartitions(ctx, id); err != nil {
		return nil, err
	}
	r.logger.Info("knowledge base saved", zap.String("kb_id", id), zap.String("name", name))
	return kb, nil
}

// EnsurePartitions creates the missing partitions of id for every configured provider.
func (r *Registry) EnsurePartitions(ctx context.Context, id string) error {
	for _, p := range models.Providers {
		if !r.gateway.Configured(p) {
			continue
		}
		if err := r.vectors.Ensure(ctx, id, p, r.gateway.Dimensions(p)); err != nil {
			return fmt.Errorf("knowledge base %s: %w", id, err)
		}
	}
	return nil
}

// Get returns one knowledge base with its document and chunk counts.
func (r *Registry) Get(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	kb, err := r.store.GetKnowledgeBase(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, id)
	}
	return kb, err
}

// Require returns ErrKnowledgeBaseNotFound when id does not exist.
func (r *Registry) Require(ctx context.Context, id string) error {
	_, err := r.Get(ctx, id)
	return err
}

// List returns every knowledge base ordered by id.
func (r *Registry) List(ctx context.Context) ([]*models.KnowledgeBase, error) {
	kbs, err := r.store.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, err
	}
	if kbs == nil {
		kbs = []*models.KnowledgeBase{}
	}
	return kbs, nil
}

// IDs returns the ids of every knowledge base.
func (r *Registry) IDs(ctx context.Context) ([]string, error) {
	kbs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(kbs))
	for i, kb := range kbs {
		ids[i] = kb.ID
	}
	return ids, nil
}

// Delete removes the knowledge base with its partitions, chunks, lexical index and
// metadata. Each step tolerates missing state. It reports whether anything existed.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	existed := false
	for _, p := range models.Providers {
		dropped, err := r.vectors.Drop(ctx, id, p)
		if err != nil {
			return existed, err
		}
		existed = existed || dropped
	}
	r.vectors.Evict(id)

	n, err := r.store.DeleteKnowledgeBaseChunks(ctx, id)
	if err != nil {
		return existed, fmt.Errorf("delete chunks of %s: %w", id, err)
	}
	existed = existed || n > 0

	if err := r.lexical.Drop(id); err != nil {
		r.logger.Warn("lexical index removal failed", zap.String("kb_id", id), zap.Error(err))
	}

	deleted, err := r.store.DeleteKnowledgeBase(ctx, id)
	if err != nil {
		return existed, err
	}
	existed = existed || deleted
	if existed {
		r.logger.Info("knowledge base deleted", zap.String("kb_id", id), zap.Int64("chunks", n))
	}
	return existed, nil
}

// EmbeddingStatus reports per-provider vector counts and cached provider health.
func (r *Registry) EmbeddingStatus(ctx context.Context, id string) (*models.EmbeddingStatus, error) {
	if err := r.Require(ctx, id); err != nil {
		return nil, err
	}
	local, err := r.vectors.Count(ctx, id, models.ProviderLocal)
	if err != nil {
		return nil, err
	}
	cloud, err := r.vectors.Count(ctx, id, models.ProviderCloud)
	if err != nil {
		return nil, err
	}
	return &models.EmbeddingStatus{
		KnowledgeBaseID: id,
		LocalCount:      local,
		CloudCount:      cloud,
		LocalAvailable:  local > 0,
		CloudAvailable:  cloud > 0,
		LocalHealth:     r.gateway.Health(models.ProviderLocal).String(),
		CloudHealth:     r.gateway.Health(models.ProviderCloud).String(),
		SearchProvider:  string(r.gateway.Resolve(models.ProviderAuto)),
	}, nil
}

// EnsureDefaults creates the configured knowledge bases that do not exist yet and returns
// how many were created. Existing ones only get missing partitions.
func (r *Registry) EnsureDefaults(ctx context.Context, kbs []config.KnowledgeBaseConfig) (int, error) {
	created := 0
	for _, kb := range kbs {
		_, err := r.Get(ctx, kb.ID)
		if err == nil {
			if err := r.EnsurePartitions(ctx, kb.ID); err != nil {
				return created, err
			}
			continue
		}
		if !errors.Is(err, ErrKnowledgeBaseNotFound) {
			return created, err
		}
		if _, err := r.Create(ctx, kb.ID, kb.Name, kb.Description, kb.Icon); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
