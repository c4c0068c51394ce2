package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/hybridkb/pkg/utils"
)

// OllamaEmbedder calls a self-hosted Ollama server. Ollama embeds one prompt per request.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	maxRetries int
	client     *http.Client
}

// NewOllamaEmbedder returns an embedder for the Ollama server at baseURL.
func NewOllamaEmbedder(baseURL, model string, dimensions int, timeout time.Duration, maxRetries int) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds texts sequentially. Any failure fails the whole batch with ErrProviderUnavailable.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, unavailable("local", err)
		}
		out[i] = vec
	}
	return out, nil
}

func (o *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	resp, err := doWithRetry(ctx, o.client, o.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(msg))
	}
	var parsed ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if len(parsed.Embedding) != o.dimensions {
		return nil, fmt.Errorf("ollama returned %d dimensions, expected %d", len(parsed.Embedding), o.dimensions)
	}
	utils.NormalizeL2(parsed.Embedding)
	return parsed.Embedding, nil
}

// Ping checks that the server answers GET /api/tags.
func (o *OllamaEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return unavailable("local", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unavailable("local", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Dimensions returns the configured embedding dimension.
func (o *OllamaEmbedder) Dimensions() int {
	return o.dimensions
}

// Close releases idle connections.
func (o *OllamaEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
