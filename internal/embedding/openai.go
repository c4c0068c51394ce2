package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/hybridkb/pkg/utils"
)

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxRetries int
	client     *http.Client
}

// NewOpenAIEmbedder returns an embedder for the API at baseURL.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int, timeout time.Duration, maxRetries int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

type openAIEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends all texts in one request.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(openAIEmbeddingRequest{Input: texts, Model: o.model})
	if err != nil {
		return nil, err
	}
	resp, err := doWithRetry(ctx, o.client, o.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, o.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, unavailable("cloud", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, unavailable("cloud", fmt.Errorf("status %d: %s", resp.StatusCode, string(msg)))
	}
	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, unavailable("cloud", fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, unavailable("cloud", fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), len(texts)))
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != o.dimensions {
			return nil, unavailable("cloud", fmt.Errorf("got %d dimensions, expected %d", len(d.Embedding), o.dimensions))
		}
		utils.NormalizeL2(d.Embedding)
		out[i] = d.Embedding
	}
	return out, nil
}

// Ping checks that GET /v1/models answers 200 with the configured key.
func (o *OpenAIEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return unavailable("cloud", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unavailable("cloud", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Dimensions returns the configured embedding dimension.
func (o *OpenAIEmbedder) Dimensions() int {
	return o.dimensions
}

// Close releases idle connections.
func (o *OpenAIEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
