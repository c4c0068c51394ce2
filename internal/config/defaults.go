package config

import "time"

// DefaultKnowledgeBases are seeded when the config does not list any.
var DefaultKnowledgeBases = []KnowledgeBaseConfig{
	{ID: "versicherungsbedingungen", Name: "Versicherungsbedingungen", Description: "AVB, Policen, Deckungen", Icon: "📜"},
	{ID: "schadenbearbeitung", Name: "Schadenbearbeitung", Description: "Prozesse, Richtlinien, Formulare", Icon: "📋"},
	{ID: "produkte", Name: "Produktinformationen", Description: "Versicherungsprodukte, Tarife", Icon: "🛡️"},
	{ID: "kundenservice", Name: "Kundenservice", Description: "FAQ, Anleitungen, Support", Icon: "💬"},
	{ID: "rechtliches", Name: "Rechtliche Grundlagen", Description: "VVG, Gesetze, Compliance", Icon: "⚖️"},
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/hybridkb/data/db/hybridkb.db"
	}
	if cfg.Storage.LexicalIndexDir == "" {
		cfg.Storage.LexicalIndexDir = "/usr/local/var/hybridkb/data/lexical"
	}

	e := &cfg.Embedding
	if e.Mode == "" {
		e.Mode = ModeBoth
	}
	if e.SearchProvider == "" {
		e.SearchProvider = "cloud"
	}
	if e.Local.Backend == "" {
		e.Local.Backend = "ollama"
	}
	if e.Local.BaseURL == "" {
		e.Local.BaseURL = "http://localhost:11434"
	}
	if e.Local.Model == "" {
		e.Local.Model = "nomic-embed-text"
	}
	if e.Local.Dimensions == 0 {
		e.Local.Dimensions = 768
	}
	if e.Local.Timeout == 0 {
		e.Local.Timeout = 30 * time.Second
	}
	if e.Local.MaxTokens == 0 {
		e.Local.MaxTokens = 256
	}
	if e.Cloud.Backend == "" {
		e.Cloud.Backend = "openai"
	}
	if e.Cloud.BaseURL == "" {
		e.Cloud.BaseURL = "https://api.openai.com"
	}
	if e.Cloud.Model == "" {
		e.Cloud.Model = "text-embedding-3-small"
	}
	if e.Cloud.Dimensions == 0 {
		e.Cloud.Dimensions = 1536
	}
	if e.Cloud.Timeout == 0 {
		e.Cloud.Timeout = 30 * time.Second
	}
	if e.HealthTTL == 0 {
		e.HealthTTL = 30 * time.Second
	}
	if e.CacheSize == 0 {
		e.CacheSize = 1000
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 2
	}

	r := &cfg.RAG
	if r.ChunkSize == 0 {
		r.ChunkSize = 800
	}
	if r.ChunkOverlap == 0 {
		r.ChunkOverlap = 100
	}
	if r.CharsPerToken == 0 {
		r.CharsPerToken = 4
	}
	if r.TopK == 0 {
		r.TopK = 12
	}
	if r.MaxTopK == 0 {
		r.MaxTopK = 100
	}
	if r.SimilarityThreshold == 0 {
		r.SimilarityThreshold = 0.5
	}
	if r.RRFK == 0 {
		r.RRFK = 60
	}
	if r.CandidateMultiplier == 0 {
		r.CandidateMultiplier = 3
	}
	if r.VectorWeight == 0 && r.LexicalWeight == 0 {
		r.VectorWeight = 0.5
		r.LexicalWeight = 0.5
	}
	if r.CollectionPrefix == "" {
		r.CollectionPrefix = "sp_kb_"
	}

	if cfg.Lexical.Backend == "" {
		cfg.Lexical.Backend = "bm25"
	}
	if cfg.Expansion.KnowledgeBases == nil {
		cfg.Expansion.KnowledgeBases = map[string]string{"rechtliches": "legal"}
	}
	if cfg.KnowledgeBases == nil {
		cfg.KnowledgeBases = append([]KnowledgeBaseConfig(nil), DefaultKnowledgeBases...)
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".json"}
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 7 * 24 * time.Hour
	}
}
