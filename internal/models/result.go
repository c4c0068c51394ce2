package models

// SearchResult is a single ranked chunk. Score is in [0,1].
type SearchResult struct {
	ChunkID         string        `json:"chunk_id"`
	KnowledgeBaseID string        `json:"knowledge_base_id"`
	Content         string        `json:"content"`
	Score           float64       `json:"score"`
	Metadata        ChunkMetadata `json:"metadata"`
	VectorScore     float64       `json:"vector_score,omitempty"`
	LexicalScore    float64       `json:"lexical_score,omitempty"`
	Boost           float64       `json:"boost,omitempty"`
	BoostReasons    []string      `json:"boost_reasons,omitempty"`
	Rank            int           `json:"rank"`
}

// ExpansionInfo describes how a query was expanded.
type ExpansionInfo struct {
	OriginalQuery string   `json:"original_query"`
	ExpandedQuery string   `json:"expanded_query"`
	WasExpanded   bool     `json:"was_expanded"`
	AddedTerms    []string `json:"added_terms,omitempty"`
}

// RerankStats summarises re-rank boosts over a result list.
type RerankStats struct {
	Count        int            `json:"count"`
	AverageBoost float64        `json:"avg_boost"`
	MaxBoost     float64        `json:"max_boost"`
	Reasons      map[string]int `json:"boost_reasons,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Mode      SearchMode      `json:"mode"`
	Query     string          `json:"query"`
	QueryTime int64           `json:"query_time_ms"`
	Provider  Provider        `json:"provider,omitempty"`
	Expansion *ExpansionInfo  `json:"expansion,omitempty"`
	Rerank    *RerankStats    `json:"rerank,omitempty"`
}
