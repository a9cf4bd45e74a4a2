package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRetrieve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.TenantID != "acme" || req.TopK != 3 {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"passages": []map[string]string{
				{"text": "Returns accepted within 30 days."},
				{"text": ""},
				{"text": "Items must be unused."},
			},
		})
	}))
	defer server.Close()

	r := NewHTTPRetriever(server.URL, WithAPIKey("test-key"))
	passages, err := r.Retrieve(context.Background(), "return policy", "acme", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("expected 2 passages (empty dropped), got %d", len(passages))
	}
	if passages[0].Text != "Returns accepted within 30 days." {
		t.Errorf("passage = %q", passages[0].Text)
	}
}

func TestRetrieveEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"passages": []any{}})
	}))
	defer server.Close()

	r := NewHTTPRetriever(server.URL)
	passages, err := r.Retrieve(context.Background(), "unknown topic", "acme", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(passages) != 0 {
		t.Fatalf("expected no passages, got %d", len(passages))
	}
}

func TestRetrieveServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewHTTPRetriever(server.URL)
	if _, err := r.Retrieve(context.Background(), "q", "acme", 3); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestRetrieveConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	r := NewHTTPRetriever(server.URL)
	if _, err := r.Retrieve(context.Background(), "q", "acme", 3); err == nil {
		t.Fatal("expected transport error")
	}
}
