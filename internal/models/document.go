package models

import "time"

// DocumentMetadata is the provenance attached to a processed document.
type DocumentMetadata struct {
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type,omitempty"`
	Uploader    string    `json:"uploader,omitempty"`
	UploadDate  time.Time `json:"upload_date"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// ChunkInput is a pre-chunked piece of a processed document.
type ChunkInput struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ProcessedDocument is the output of document extraction. When Chunks is empty the
// ingestion pipeline chunks RawText itself.
type ProcessedDocument struct {
	ID       string           `json:"id,omitempty"`
	Filename string           `json:"filename"`
	Chunks   []ChunkInput     `json:"chunks,omitempty"`
	Metadata DocumentMetadata `json:"metadata"`
	RawText  string           `json:"raw_text"`
}

// ChunkMetadata is the provenance stored with every chunk.
type ChunkMetadata struct {
	Filename        string                 `json:"filename"`
	FileType        string                 `json:"file_type,omitempty"`
	Uploader        string                 `json:"uploader,omitempty"`
	UploadDate      time.Time              `json:"upload_date"`
	ContentHash     string                 `json:"content_hash"`
	ChunkIndex      int                    `json:"chunk_index"`
	ChunkStart      int                    `json:"chunk_start"`
	ChunkEnd        int                    `json:"chunk_end"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	KnowledgeBaseID string                 `json:"knowledge_base_id"`
	DocumentID      string                 `json:"document_id"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// Chunk is a bounded slice of a source document, the unit of indexing and retrieval.
type Chunk struct {
	ID              string        `json:"id"`
	KnowledgeBaseID string        `json:"knowledge_base_id"`
	Content         string        `json:"content"`
	Metadata        ChunkMetadata `json:"metadata"`
	CreatedAt       time.Time     `json:"created_at"`
}

// DocumentInfo summarises one source document in a knowledge base.
type DocumentInfo struct {
	Filename    string    `json:"filename"`
	DocumentID  string    `json:"document_id"`
	FileType    string    `json:"file_type"`
	Uploader    string    `json:"uploader"`
	UploadDate  time.Time `json:"upload_date"`
	ContentHash string    `json:"content_hash"`
	ChunkCount  int       `json:"chunk_count"`
	HasLocal    bool      `json:"has_local"`
	HasCloud    bool      `json:"has_cloud"`
}

// IngestResult reports which providers stored embeddings for a document.
type IngestResult struct {
	Local   bool `json:"local"`
	Cloud   bool `json:"cloud"`
	Skipped bool `json:"skipped"`
	Chunks  int  `json:"chunks"`
}
