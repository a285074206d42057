// Package search provides the external web lookup client used by the agent.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// maxResultsCap is the hard upper bound the backend accepts.
	maxResultsCap = 10

	// contentDisplayCap bounds each result's content when formatted for the
	// conversation.
	contentDisplayCap = 400

	maxResponseBytes = 2 << 20 // 2MB

	requestTimeout = 15 * time.Second
)

// Client talks to the JSON search backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxResults int
}

// NewClient creates a search client. maxResults is clamped to the backend cap.
func NewClient(baseURL, apiKey string, maxResults int) *Client {
	if maxResults <= 0 || maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxResults: maxResults,
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

type request struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type response struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Search performs a lookup and returns text formatted for feeding back into
// the conversation as a system message.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("search api key not configured")
	}

	body, err := json.Marshal(request{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    c.maxResults,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	return formatResults(query, parsed), nil
}

// formatResults renders the answer and hits as plain text, truncating each
// hit's content at the display cap.
func formatResults(query string, resp response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)

	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", answer)
	}

	if len(resp.Results) == 0 && strings.TrimSpace(resp.Answer) == "" {
		b.WriteString("No results found.\n")
		return b.String()
	}

	for i, r := range resp.Results {
		content := strings.TrimSpace(r.Content)
		if len(content) > contentDisplayCap {
			content = content[:contentDisplayCap] + "..."
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, content)
	}
	return b.String()
}
