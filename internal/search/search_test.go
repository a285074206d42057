package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConfigured(t *testing.T) {
	if NewClient("http://example.com", "", 5).Configured() {
		t.Error("Configured() = true with empty key")
	}
	if NewClient("http://example.com", "   ", 5).Configured() {
		t.Error("Configured() = true with blank key")
	}
	if !NewClient("http://example.com", "tvly-key", 5).Configured() {
		t.Error("Configured() = false with key set")
	}
}

func TestSearchRequestShape(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(response{Answer: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5)
	if _, err := c.Search(context.Background(), "golang circular buffer"); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if got.APIKey != "test-key" {
		t.Errorf("api_key = %q", got.APIKey)
	}
	if got.Query != "golang circular buffer" {
		t.Errorf("query = %q", got.Query)
	}
	if got.MaxResults != 5 {
		t.Errorf("max_results = %d, want 5", got.MaxResults)
	}
	if got.SearchDepth != "basic" {
		t.Errorf("search_depth = %q, want basic", got.SearchDepth)
	}
	if !got.IncludeAnswer {
		t.Error("include_answer = false, want true")
	}
}

func TestSearchClampsMaxResults(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(response{Answer: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 50)
	if _, err := c.Search(context.Background(), "q"); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got.MaxResults != maxResultsCap {
		t.Errorf("max_results = %d, want clamped to %d", got.MaxResults, maxResultsCap)
	}
}

func TestSearchFormatsAnswerAndResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(response{
			Answer: "Use a ring buffer.",
			Results: []Result{
				{Title: "Ring buffers", URL: "https://example.com/ring", Content: "A ring buffer overwrites the oldest data."},
				{Title: "Circular queues", URL: "https://example.com/queue", Content: "Another writeup."},
			},
		})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "test-key", 5).Search(context.Background(), "ring buffer")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	for _, want := range []string{
		`Search results for "ring buffer":`,
		"Answer: Use a ring buffer.",
		"1. Ring buffers (https://example.com/ring)",
		"2. Circular queues (https://example.com/queue)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSearchTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", contentDisplayCap+200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(response{
			Results: []Result{{Title: "Long", URL: "https://example.com", Content: long}},
		})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "test-key", 5).Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if strings.Contains(out, long) {
		t.Error("content not truncated")
	}
	if !strings.Contains(out, strings.Repeat("a", contentDisplayCap)+"...") {
		t.Error("truncated content missing ellipsis marker")
	}
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(response{})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "test-key", 5).Search(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !strings.Contains(out, "No results found.") {
		t.Errorf("output = %q, want no-results notice", out)
	}
}

func TestSearchBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "test-key", 5).Search(context.Background(), "q")
	if err == nil {
		t.Fatal("Search() error = nil, want status error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status 429 mentioned", err)
	}
}

func TestSearchUnconfigured(t *testing.T) {
	if _, err := NewClient("http://example.com", "", 5).Search(context.Background(), "q"); err == nil {
		t.Fatal("Search() error = nil with no key")
	}
}
