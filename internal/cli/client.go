package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
)

// Client talks to a running hybridkb server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Search runs a search request.
func (c *Client) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/search", q, &resp)
	return &resp, err
}

// Stats returns aggregate statistics.
func (c *Client) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &st)
	return &st, err
}

// ListKnowledgeBases returns every knowledge base.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error) {
	var out struct {
		KnowledgeBases []*models.KnowledgeBase `json:"knowledge_bases"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/knowledge-bases", nil, &out)
	return out.KnowledgeBases, err
}

// AddDocument ingests doc into kbID.
func (c *Client) AddDocument(ctx context.Context, kbID string, doc *models.ProcessedDocument) (*models.IngestResult, error) {
	var res models.IngestResult
	err := c.do(ctx, http.MethodPost, "/api/v1/knowledge-bases/"+url.PathEscape(kbID)+"/documents", doc, &res)
	return &res, err
}

// RemoveDocument deletes filename from kbID.
func (c *Client) RemoveDocument(ctx context.Context, kbID, filename string) error {
	path := "/api/v1/knowledge-bases/" + url.PathEscape(kbID) + "/documents/" + url.PathEscape(filename)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SubmitJob starts a background job on the server.
func (c *Client) SubmitJob(ctx context.Context, jobType, kbID string) (*models.Job, error) {
	var job models.Job
	body := map[string]string{"type": jobType, "kb_id": kbID}
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", body, &job)
	return &job, err
}

// GetJob returns a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job)
	return &job, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
