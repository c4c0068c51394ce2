// Package testutil wires the storage, partition, lexical and embedding layers together on
// temporary directories for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/storage"
	"github.com/hyperjump/hybridkb/internal/vector"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// Mock embedding dimensions for the two providers.
const (
	LocalDims = 32
	CloudDims = 48
)

// Env is a fully wired set of lower layers backed by t.TempDir().
type Env struct {
	Dir     string
	Store   *storage.SQLiteStorage
	Vectors *vector.Manager
	Lexical *lexical.Manager
	Gateway *embedding.Gateway
	Local   *embedding.MockEmbedder
	Cloud   *embedding.MockEmbedder
	Locks   *utils.KeyedMutex
}

// Options tweaks NewEnv.
type Options struct {
	// NoLocal and NoCloud leave a provider unconfigured.
	NoLocal bool
	NoCloud bool
	// Threshold is the vector similarity threshold (default 0).
	Threshold float64
	// LexicalBackend is bm25 (default) or bleve.
	LexicalBackend string
}

// NewEnv builds an Env and registers cleanup on t.
func NewEnv(t testing.TB, opts Options) *Env {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}

	env := &Env{
		Dir:   dir,
		Store: store,
		Locks: utils.NewKeyedMutex(),
	}
	gw := embedding.GatewayOptions{
		SearchProvider: models.ProviderCloud,
		HealthTTL:      time.Minute,
		CacheSize:      64,
		BatchSize:      8,
	}
	if !opts.NoLocal {
		env.Local = embedding.NewMockEmbedder(LocalDims)
		gw.Local = env.Local
	}
	if !opts.NoCloud {
		env.Cloud = embedding.NewMockEmbedder(CloudDims)
		gw.Cloud = env.Cloud
	}
	env.Gateway = embedding.NewGateway(gw)
	env.Vectors = vector.NewManager(store, "sp_kb_", opts.Threshold)
	env.Lexical = lexical.NewManager(filepath.Join(dir, "lexical"), opts.LexicalBackend, store)

	t.Cleanup(func() {
		_ = env.Lexical.Close()
		_ = store.Close()
	})
	return env
}
