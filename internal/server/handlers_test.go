package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/indexer"
	"github.com/hyperjump/hybridkb/internal/jobs"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/registry"
	"github.com/hyperjump/hybridkb/internal/retrieval"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:    filepath.Join(dir, "db.sqlite"),
			LexicalIndexDir: filepath.Join(dir, "lexical"),
		},
		Embedding: config.EmbeddingConfig{
			Mode:  config.ModeBoth,
			Local: config.LocalProviderConfig{Backend: "mock", Dimensions: 8},
			Cloud: config.CloudProviderConfig{Backend: "mock", Dimensions: 12},
		},
		RAG:            config.RAGConfig{SimilarityThreshold: 0.01},
		KnowledgeBases: []config.KnowledgeBaseConfig{{ID: "produkte", Name: "Produkte"}},
	}
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := retrieval.Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(NewServer(svc, &cfg.Server, zap.NewNop()).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Close()
	})
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := do(t, ts, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", code, body)
	}
}

func TestKnowledgeBaseRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := do(t, ts, http.MethodPost, "/api/v1/knowledge-bases", map[string]string{"id": "reisen", "name": "Reisen"})
	if code != http.StatusCreated {
		t.Fatalf("create: got %d", code)
	}
	code, _ = do(t, ts, http.MethodPost, "/api/v1/knowledge-bases", map[string]string{"id": "Not Valid"})
	if code != http.StatusBadRequest {
		t.Errorf("create invalid id: got %d, want 400", code)
	}

	code, body := do(t, ts, http.MethodGet, "/api/v1/knowledge-bases", nil)
	if code != http.StatusOK {
		t.Fatalf("list: got %d", code)
	}
	if kbs, _ := body["knowledge_bases"].([]interface{}); len(kbs) != 2 {
		t.Errorf("list: got %d knowledge bases, want 2", len(kbs))
	}

	code, body = do(t, ts, http.MethodGet, "/api/v1/knowledge-bases/reisen/status", nil)
	if code != http.StatusOK || body["knowledge_base_id"] != "reisen" {
		t.Errorf("status: %d %v", code, body)
	}

	code, _ = do(t, ts, http.MethodGet, "/api/v1/knowledge-bases/unbekannt", nil)
	if code != http.StatusNotFound {
		t.Errorf("get unknown: got %d, want 404", code)
	}

	code, _ = do(t, ts, http.MethodDelete, "/api/v1/knowledge-bases/reisen", nil)
	if code != http.StatusOK {
		t.Errorf("delete: got %d", code)
	}
	code, _ = do(t, ts, http.MethodDelete, "/api/v1/knowledge-bases/reisen", nil)
	if code != http.StatusNotFound {
		t.Errorf("delete again: got %d, want 404", code)
	}
}

func TestDocumentRoutesAndSearch(t *testing.T) {
	ts := newTestServer(t, nil)
	doc := models.ProcessedDocument{Filename: "hausrat 2024.txt", RawText: "Die Hausratversicherung deckt Diebstahl, Feuer und Wasserschaden."}

	code, body := do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/documents", doc)
	if code != http.StatusCreated || body["local"] != true || body["cloud"] != true {
		t.Fatalf("add: %d %v", code, body)
	}
	code, body = do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/documents", doc)
	if code != http.StatusOK || body["skipped"] != true {
		t.Errorf("re-add: %d %v", code, body)
	}
	code, _ = do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/documents", models.ProcessedDocument{Filename: "leer.txt"})
	if code != http.StatusBadRequest {
		t.Errorf("empty document: got %d, want 400", code)
	}

	code, body = do(t, ts, http.MethodGet, "/api/v1/knowledge-bases/produkte/documents", nil)
	if docs, _ := body["documents"].([]interface{}); code != http.StatusOK || len(docs) != 1 {
		t.Errorf("list documents: %d %v", code, body)
	}
	code, body = do(t, ts, http.MethodGet, "/api/v1/knowledge-bases/produkte/documents/hausrat%202024.txt", nil)
	if code != http.StatusOK || body["filename"] != "hausrat 2024.txt" {
		t.Errorf("get document: %d %v", code, body)
	}

	for _, mode := range []string{"vector", "lexical", "hybrid", "fulltext"} {
		code, body = do(t, ts, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "Diebstahl", "mode": mode, "knowledge_bases": []string{"produkte"}})
		if code != http.StatusOK {
			t.Errorf("search %s: got %d %v", mode, code, body)
			continue
		}
		if results, _ := body["results"].([]interface{}); len(results) == 0 {
			t.Errorf("search %s: no results", mode)
		}
	}
	code, _ = do(t, ts, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": ""})
	if code != http.StatusBadRequest {
		t.Errorf("empty query: got %d, want 400", code)
	}

	code, _ = do(t, ts, http.MethodDelete, "/api/v1/knowledge-bases/produkte/documents/hausrat%202024.txt", nil)
	if code != http.StatusOK {
		t.Errorf("remove: got %d", code)
	}
	code, _ = do(t, ts, http.MethodGet, "/api/v1/knowledge-bases/produkte/documents/hausrat%202024.txt", nil)
	if code != http.StatusNotFound {
		t.Errorf("get removed: got %d, want 404", code)
	}
}

func TestVectorSearchWithoutProviders(t *testing.T) {
	// The cloud provider without an API key is disabled, leaving no provider.
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Embedding.Mode = config.ModeAPI
		cfg.Embedding.Cloud = config.CloudProviderConfig{Backend: "openai"}
	})
	code, _ := do(t, ts, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "haftung", "mode": "vector"})
	if code != http.StatusServiceUnavailable {
		t.Errorf("vector search without providers: got %d, want 503", code)
	}
	code, _ = do(t, ts, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "haftung", "mode": "lexical"})
	if code != http.StatusOK {
		t.Errorf("lexical search without providers: got %d, want 200", code)
	}
}

func TestMaintenanceAndJobRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/documents",
		models.ProcessedDocument{Filename: "leben.txt", RawText: "Die Lebensversicherung zahlt das Kapital aus."})

	code, body := do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/clear-embeddings", nil)
	if code != http.StatusOK || body["local"] != true {
		t.Errorf("clear: %d %v", code, body)
	}
	code, body = do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/reindex", nil)
	if code != http.StatusOK || body["chunks"] != 1.0 {
		t.Errorf("reindex: %d %v", code, body)
	}
	code, body = do(t, ts, http.MethodPost, "/api/v1/knowledge-bases/produkte/rebuild-lexical", nil)
	if code != http.StatusOK || body["chunks"] != 1.0 {
		t.Errorf("rebuild lexical: %d %v", code, body)
	}

	code, body = do(t, ts, http.MethodPost, "/api/v1/jobs", map[string]string{"type": jobs.TypeReindex, "kb_id": "produkte"})
	if code != http.StatusAccepted {
		t.Fatalf("submit: %d %v", code, body)
	}
	id, _ := body["id"].(string)
	code, _ = do(t, ts, http.MethodGet, "/api/v1/jobs/"+id, nil)
	if code != http.StatusOK {
		t.Errorf("get job: got %d", code)
	}
	code, _ = do(t, ts, http.MethodPost, "/api/v1/jobs", map[string]string{"type": "defrag"})
	if code != http.StatusBadRequest {
		t.Errorf("unknown job type: got %d, want 400", code)
	}
	code, _ = do(t, ts, http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown job: got %d, want 404", code)
	}
	code, body = do(t, ts, http.MethodGet, "/api/v1/jobs", nil)
	if list, _ := body["jobs"].([]interface{}); code != http.StatusOK || len(list) != 1 {
		t.Errorf("list jobs: %d %v", code, body)
	}

	code, body = do(t, ts, http.MethodGet, "/api/v1/stats", nil)
	if code != http.StatusOK || body["total_documents"] != 1.0 {
		t.Errorf("stats: %d %v", code, body)
	}
	code, body = do(t, ts, http.MethodGet, "/api/v1/providers?probe=true", nil)
	if p, _ := body["providers"].([]interface{}); code != http.StatusOK || len(p) != 2 {
		t.Errorf("providers: %d %v", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	do(t, ts, http.MethodGet, "/health", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `hybridkb_http_requests_total{method="GET",route="/health",status="2xx"}`) {
		t.Errorf("metrics output missing request counter:\n%s", b)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", registry.ErrKnowledgeBaseNotFound), http.StatusNotFound},
		{jobs.ErrJobNotFound, http.StatusNotFound},
		{registry.ErrInvalidID, http.StatusBadRequest},
		{models.ErrInvalidQuery, http.StatusBadRequest},
		{indexer.ErrEmptyDocument, http.StatusBadRequest},
		{retrieval.ErrMissingParam, http.StatusBadRequest},
		{jobs.ErrJobFinished, http.StatusConflict},
		{embedding.ErrNoProviderConfigured, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: local", indexer.ErrIngestionFailed), http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
