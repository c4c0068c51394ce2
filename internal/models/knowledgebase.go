// Package models defines core data structures for knowledge bases, documents, chunks,
// queries, search results and jobs.
package models

import "time"

// Provider names one of the two embedding providers.
type Provider string

const (
	// ProviderLocal is the self-hosted embedding service.
	ProviderLocal Provider = "local"
	// ProviderCloud is the cloud embedding API.
	ProviderCloud Provider = "cloud"
	// ProviderAuto resolves to the configured search provider.
	ProviderAuto Provider = "auto"
)

// Providers lists the concrete providers in a fixed order.
var Providers = []Provider{ProviderLocal, ProviderCloud}

// ParseProvider maps user input to a Provider. "openai" is accepted as an alias for cloud.
func ParseProvider(s string) (Provider, bool) {
	switch s {
	case "", "auto":
		return ProviderAuto, true
	case "local", "ollama":
		return ProviderLocal, true
	case "cloud", "openai", "api":
		return ProviderCloud, true
	}
	return "", false
}

// KnowledgeBase is a named document collection with its own lexical and vector indexes.
type KnowledgeBase struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
}

// EmbeddingStatus reports per-provider vector counts and availability for a knowledge base.
type EmbeddingStatus struct {
	KnowledgeBaseID string `json:"knowledge_base_id"`
	LocalCount      int    `json:"local_count"`
	CloudCount      int    `json:"cloud_count"`
	LocalAvailable  bool   `json:"local_available"`
	CloudAvailable  bool   `json:"cloud_available"`
	LocalHealth     string `json:"local_health"`
	CloudHealth     string `json:"cloud_health"`
	SearchProvider  string `json:"search_provider"`
}

// ClearResult reports which partitions were dropped.
type ClearResult struct {
	Local bool `json:"local"`
	Cloud bool `json:"cloud"`
}

// KnowledgeBaseStats is one knowledge base's entry in Stats.
type KnowledgeBaseStats struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ChunkCount    int    `json:"chunk_count"`
	DocumentCount int    `json:"document_count"`
	LocalVectors  int    `json:"local_vectors"`
	CloudVectors  int    `json:"cloud_vectors"`
}

// Stats aggregates counts across the registry.
type Stats struct {
	KnowledgeBaseCount int                  `json:"knowledge_base_count"`
	TotalChunks        int                  `json:"total_chunks"`
	TotalDocuments     int                  `json:"total_documents"`
	KnowledgeBases     []KnowledgeBaseStats `json:"knowledge_bases"`
	DiskUsageBytes     int64                `json:"disk_usage_bytes"`
}

// Partition is one provider's vector collection for a knowledge base.
type Partition struct {
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	Provider        Provider  `json:"provider"`
	Name            string    `json:"name"`
	Dimensions      int       `json:"dimensions"`
	CreatedAt       time.Time `json:"created_at"`
}
