package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/testutil"
)

func newTestRegistry(t *testing.T, opts testutil.Options) (*Registry, *testutil.Env) {
	env := testutil.NewEnv(t, opts)
	return New(env.Store, env.Vectors, env.Lexical, env.Gateway, env.Locks, nil), env
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"rechtliches", "kb-1", "a_b", "0"} {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "Rechtliches", "-kb", "a b", "kb/1"} {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestRegistry_CreateIsIdempotent(t *testing.T) {
	r, env := newTestRegistry(t, testutil.Options{})
	ctx := context.Background()

	kb, err := r.Create(ctx, "rechtliches", "Recht", "VVG", "⚖️")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, "rechtliches", "Rechtliche Grundlagen", "VVG, Gesetze", "⚖️"); err != nil {
		t.Fatal(err)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("List returned %d entries, want exactly one per id", len(list))
	}
	if list[0].Name != "Rechtliche Grundlagen" || !list[0].CreatedAt.Equal(kb.CreatedAt) {
		t.Errorf("update lost data: %+v", list[0])
	}
	for _, p := range models.Providers {
		if ok, _ := env.Vectors.Exists(ctx, "rechtliches", p); !ok {
			t.Errorf("partition %s missing", p)
		}
	}
}

func TestRegistry_CreateRejectsInvalidID(t *testing.T) {
	r, _ := newTestRegistry(t, testutil.Options{})
	if _, err := r.Create(context.Background(), "Bad ID", "", "", ""); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestRegistry_OnlyConfiguredProvidersGetPartitions(t *testing.T) {
	r, env := newTestRegistry(t, testutil.Options{NoCloud: true})
	ctx := context.Background()
	if _, err := r.Create(ctx, "kb", "KB", "", ""); err != nil {
		t.Fatal(err)
	}
	if ok, _ := env.Vectors.Exists(ctx, "kb", models.ProviderCloud); ok {
		t.Error("cloud partition created without a cloud provider")
	}
}

func TestRegistry_Delete(t *testing.T) {
	r, env := newTestRegistry(t, testutil.Options{})
	ctx := context.Background()
	if _, err := r.Create(ctx, "kb", "KB", "", ""); err != nil {
		t.Fatal(err)
	}
	_ = env.Store.InsertChunks(ctx, []*models.Chunk{{ID: "d_chunk_0", KnowledgeBaseID: "kb", Content: "x",
		Metadata: models.ChunkMetadata{Filename: "a.txt"}}})

	existed, err := r.Delete(ctx, "kb")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	if _, err := r.Get(ctx, "kb"); !errors.Is(err, ErrKnowledgeBaseNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if n, _ := env.Store.CountChunks(ctx, "kb"); n != 0 {
		t.Errorf("%d chunks survive delete", n)
	}
	if ok, _ := env.Vectors.Exists(ctx, "kb", models.ProviderLocal); ok {
		t.Error("partition survives delete")
	}

	existed, err = r.Delete(ctx, "kb")
	if err != nil || existed {
		t.Errorf("second Delete = %v, %v", existed, err)
	}
}

func TestRegistry_EmbeddingStatus(t *testing.T) {
	r, env := newTestRegistry(t, testutil.Options{})
	ctx := context.Background()
	_, _ = r.Create(ctx, "kb", "KB", "", "")
	vec := make([]float32, testutil.LocalDims)
	vec[0] = 1
	if err := env.Vectors.Upsert(ctx, "kb", models.ProviderLocal, []string{"c1"}, [][]float32{vec}); err != nil {
		t.Fatal(err)
	}

	st, err := r.EmbeddingStatus(ctx, "kb")
	if err != nil {
		t.Fatal(err)
	}
	if st.LocalCount != 1 || !st.LocalAvailable || st.CloudAvailable || st.SearchProvider != "cloud" {
		t.Errorf("status = %+v", st)
	}
	if st.LocalHealth != "unknown" {
		t.Errorf("LocalHealth = %q", st.LocalHealth)
	}
	if _, err := r.EmbeddingStatus(ctx, "missing"); !errors.Is(err, ErrKnowledgeBaseNotFound) {
		t.Errorf("expected ErrKnowledgeBaseNotFound, got %v", err)
	}
}

func TestRegistry_EnsureDefaults(t *testing.T) {
	r, _ := newTestRegistry(t, testutil.Options{})
	ctx := context.Background()
	n, err := r.EnsureDefaults(ctx, config.DefaultKnowledgeBases)
	if err != nil || n != len(config.DefaultKnowledgeBases) {
		t.Fatalf("EnsureDefaults = %d, %v", n, err)
	}
	n, _ = r.EnsureDefaults(ctx, config.DefaultKnowledgeBases)
	if n != 0 {
		t.Errorf("second EnsureDefaults created %d", n)
	}
	ids, _ := r.IDs(ctx)
	if len(ids) != 5 || ids[0] != "kundenservice" {
		t.Errorf("ids = %v", ids)
	}
}
