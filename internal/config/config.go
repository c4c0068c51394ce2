// Package config provides configuration loading and structs for the hybridkb engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Embedding modes select which providers receive documents.
const (
	ModeLocal = "local"
	ModeAPI   = "api"
	ModeBoth  = "both"
)

// Config holds all configuration for the application.
type Config struct {
	Debug          bool                  `yaml:"debug"`
	Server         ServerConfig          `yaml:"server"`
	Storage        StorageConfig         `yaml:"storage"`
	Embedding      EmbeddingConfig       `yaml:"embedding"`
	RAG            RAGConfig             `yaml:"rag"`
	Lexical        LexicalConfig         `yaml:"lexical"`
	Expansion      ExpansionConfig       `yaml:"expansion"`
	Rerank         RerankConfig          `yaml:"rerank"`
	KnowledgeBases []KnowledgeBaseConfig `yaml:"knowledge_bases"`
	Watch          WatchConfig           `yaml:"watch"`
	Jobs           JobsConfig            `yaml:"jobs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and lexical indexes.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	LexicalIndexDir string `yaml:"lexical_index_dir"`
}

// EmbeddingConfig configures the two embedding providers and the gateway around them.
type EmbeddingConfig struct {
	// Mode is one of local, api, both and decides which providers receive documents.
	Mode string `yaml:"mode"`
	// SearchProvider is local or cloud; "auto" queries resolve to it.
	SearchProvider string              `yaml:"search_provider"`
	Local          LocalProviderConfig `yaml:"local"`
	Cloud          CloudProviderConfig `yaml:"cloud"`
	HealthTTL      time.Duration       `yaml:"health_ttl"`
	CacheSize      int                 `yaml:"cache_size"`
	BatchSize      int                 `yaml:"batch_size"`
	MaxRetries     int                 `yaml:"max_retries"`
}

// LocalProviderConfig configures the self-hosted embedding service.
type LocalProviderConfig struct {
	// Backend is ollama (HTTP), onnx (in-process, cgo) or mock.
	Backend    string        `yaml:"backend"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	ModelPath  string        `yaml:"model_path"`
	MaxTokens  int           `yaml:"max_tokens"`
}

// CloudProviderConfig configures the OpenAI-compatible embedding API.
type CloudProviderConfig struct {
	// Backend is openai or mock.
	Backend    string        `yaml:"backend"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RAGConfig holds chunking and retrieval parameters.
type RAGConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	CharsPerToken       int     `yaml:"chars_per_token"`
	TopK                int     `yaml:"top_k"`
	MaxTopK             int     `yaml:"max_top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RRFK                int     `yaml:"rrf_k"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
	VectorWeight        float64 `yaml:"vector_weight"`
	LexicalWeight       float64 `yaml:"lexical_weight"`
	CollectionPrefix    string  `yaml:"collection_prefix"`
}

// LexicalConfig selects the lexical index backend (bm25 or bleve).
type LexicalConfig struct {
	Backend string `yaml:"backend"`
}

// ExpansionConfig registers synonym tables and binds them to knowledge bases.
type ExpansionConfig struct {
	Tables         map[string]map[string][]string `yaml:"tables"`
	KnowledgeBases map[string]string              `yaml:"knowledge_bases"`
}

// RerankConfig tunes the re-ranker.
type RerankConfig struct {
	// CitationKnowledgeBases limits article/SR citation boosts to queries targeting one of
	// these knowledge bases. Empty means the boosts always apply.
	CitationKnowledgeBases []string `yaml:"citation_knowledge_bases"`
}

// KnowledgeBaseConfig describes a knowledge base seeded on startup.
type KnowledgeBaseConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
}

// WatchConfig configures the inbox directory watcher.
type WatchConfig struct {
	InboxDir   string   `yaml:"inbox_dir"`
	Extensions []string `yaml:"extensions"`
}

// JobsConfig configures background job retention.
type JobsConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// LocalEnabled reports whether documents are embedded with the local provider.
func (e *EmbeddingConfig) LocalEnabled() bool {
	return e.Mode == ModeLocal || e.Mode == ModeBoth
}

// CloudEnabled reports whether documents are embedded with the cloud provider.
func (e *EmbeddingConfig) CloudEnabled() bool {
	return e.Mode == ModeAPI || e.Mode == ModeBoth
}

// Load reads and parses the config file at path, expands paths and environment
// references, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.LexicalIndexDir = expandPath(cfg.Storage.LexicalIndexDir, configDir)
	if cfg.Embedding.Local.ModelPath != "" {
		cfg.Embedding.Local.ModelPath = expandPath(cfg.Embedding.Local.ModelPath, configDir)
	}
	if cfg.Watch.InboxDir != "" {
		cfg.Watch.InboxDir = expandPath(cfg.Watch.InboxDir, configDir)
	}
	cfg.Embedding.Cloud.APIKey = os.ExpandEnv(cfg.Embedding.Cloud.APIKey)

	return &cfg, nil
}

// Validate rejects settings that cannot be repaired by defaults.
func Validate(cfg *Config) error {
	switch cfg.Embedding.Mode {
	case ModeLocal, ModeAPI, ModeBoth:
	default:
		return fmt.Errorf("invalid embedding.mode %q (want local, api or both)", cfg.Embedding.Mode)
	}
	switch cfg.Embedding.SearchProvider {
	case "local", "cloud":
	default:
		return fmt.Errorf("invalid embedding.search_provider %q (want local or cloud)", cfg.Embedding.SearchProvider)
	}
	switch cfg.Lexical.Backend {
	case "bm25", "bleve":
	default:
		return fmt.Errorf("invalid lexical.backend %q (want bm25 or bleve)", cfg.Lexical.Backend)
	}
	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)", cfg.RAG.ChunkOverlap, cfg.RAG.ChunkSize)
	}
	for kb, table := range cfg.Expansion.KnowledgeBases {
		if _, ok := cfg.Expansion.Tables[table]; !ok && table != "legal" {
			return fmt.Errorf("expansion table %q for knowledge base %q is not defined", table, kb)
		}
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
