package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// HTTPRetriever queries a vector-search service over HTTP. A search
// that matches nothing returns an empty slice, not an error; errors
// mean the service itself could not be reached or answered badly.
type HTTPRetriever struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// Option configures an HTTPRetriever.
type Option func(*HTTPRetriever)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPRetriever) { r.client = c }
}

// WithAPIKey sets the bearer token sent on search requests.
func WithAPIKey(key string) Option {
	return func(r *HTTPRetriever) { r.apiKey = key }
}

// NewHTTPRetriever creates a retriever for the search service at baseURL.
func NewHTTPRetriever(baseURL string, opts ...Option) *HTTPRetriever {
	r := &HTTPRetriever{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type searchRequest struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
	TopK     int    `json:"top_k"`
}

type searchResponse struct {
	Passages []struct {
		Text string `json:"text"`
	} `json:"passages"`
}

// Retrieve returns up to k passages relevant to query within a tenant's
// document collection.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query, tenantID string, k int) ([]protocol.Passage, error) {
	body, err := json.Marshal(searchRequest{Query: query, TenantID: tenantID, TopK: k})
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge: search error (status %d): %s", resp.StatusCode, string(data))
	}

	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("knowledge: parse response: %w", err)
	}

	passages := make([]protocol.Passage, 0, len(out.Passages))
	for _, p := range out.Passages {
		if p.Text == "" {
			continue
		}
		passages = append(passages, protocol.Passage{Text: p.Text})
	}
	return passages, nil
}
