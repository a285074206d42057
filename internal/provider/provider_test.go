package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/hostpilot/internal/config"
	"github.com/ashureev/hostpilot/internal/domain"
)

func testConfig(baseURL, model string) config.ProviderConfig {
	return config.ProviderConfig{
		Model:          model,
		BaseURL:        baseURL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
	}
}

func TestBuildMessages(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleSystem, Content: "sneaky extra system"},
		{Role: domain.RoleAssistant, Content: "  "},
		{Role: "", Content: "roleless"},
		{Role: domain.RoleAssistant, Content: "reply"},
	}

	out := buildMessages(history, "  be terse  ")

	if len(out) != 3 {
		t.Fatalf("message count = %d, want 3: %+v", len(out), out)
	}
	if out[0].Role != domain.RoleSystem || out[0].Content != "be terse" {
		t.Errorf("first message = %+v, want trimmed system prompt", out[0])
	}
	for _, m := range out[1:] {
		if m.Role == domain.RoleSystem {
			t.Errorf("extra system message survived filtering: %+v", m)
		}
	}
}

func TestBuildMessagesDefaultPersona(t *testing.T) {
	out := buildMessages(nil, "   ")
	if out[0].Content != defaultPersona {
		t.Errorf("system content = %q, want default persona", out[0].Content)
	}
}

func TestBuildMessagesSyntheticUser(t *testing.T) {
	// Only unusable history entries: the payload must never be a lone system
	// message.
	history := []domain.Message{
		{Role: domain.RoleSystem, Content: "old system"},
		{Role: domain.RoleUser, Content: "   "},
	}
	out := buildMessages(history, "prompt")

	if len(out) != 2 {
		t.Fatalf("message count = %d, want 2: %+v", len(out), out)
	}
	if out[1].Role != domain.RoleUser || out[1].Content != minimalGreeting {
		t.Errorf("synthetic message = %+v, want user %q", out[1], minimalGreeting)
	}
}

func TestMinimalMessages(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "old question"},
		{Role: domain.RoleAssistant, Content: "old answer"},
		{Role: domain.RoleUser, Content: "latest question"},
		{Role: domain.RoleAssistant, Content: "latest answer"},
	}
	out := minimalMessages(history)

	if len(out) != 2 {
		t.Fatalf("message count = %d, want 2", len(out))
	}
	if out[0].Role != domain.RoleSystem || out[0].Content != defaultPersona {
		t.Errorf("system message = %+v, want default persona", out[0])
	}
	if out[1].Content != "latest question" {
		t.Errorf("user message = %q, want most recent user entry", out[1].Content)
	}
}

func TestMinimalMessagesGreetingFallback(t *testing.T) {
	out := minimalMessages([]domain.Message{{Role: domain.RoleAssistant, Content: "only me"}})
	if out[1].Content != minimalGreeting {
		t.Errorf("user message = %q, want %q", out[1].Content, minimalGreeting)
	}
}

func TestChatCompletionsRoundTrip(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "gpt-4o-mini"))
	reply, err := c.Chat(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "ping"}}, "sys")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Text != "pong" {
		t.Errorf("Text = %q, want %q", reply.Text, "pong")
	}
	if gotPath != completionsPath {
		t.Errorf("path = %q, want %q", gotPath, completionsPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if _, ok := gotBody["messages"]; !ok {
		t.Error("completions payload missing messages array")
	}
}

func TestChatRetriesWithMinimalPayload(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"too long"}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	}))
	defer srv.Close()

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "noise"},
		{Role: domain.RoleUser, Content: "the real question"},
	}

	c := New(testConfig(srv.URL, "gpt-4o-mini"))
	reply, err := c.Chat(context.Background(), history, "sys")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Text != "recovered" {
		t.Errorf("Text = %q, want %q", reply.Text, "recovered")
	}
	if len(bodies) != 2 {
		t.Fatalf("request count = %d, want 2", len(bodies))
	}

	retry, _ := bodies[1]["messages"].([]any)
	if len(retry) != 2 {
		t.Fatalf("retry message count = %d, want 2", len(retry))
	}
	last, _ := retry[1].(map[string]any)
	if last["content"] != "the real question" {
		t.Errorf("retry user message = %v, want most recent user entry", last["content"])
	}
}

func TestChatSurfacesRetryError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"still broken"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "gpt-4o-mini"))
	_, err := c.Chat(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, "")

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if provErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", provErr.Status)
	}
	if calls != 2 {
		t.Errorf("request count = %d, want exactly one retry", calls)
	}
}

func TestChatDoesNotRetryNonRetryableStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "gpt-4o-mini"))
	_, err := c.Chat(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, "")
	if err == nil {
		t.Fatal("Chat() error = nil, want ProviderError")
	}
	if calls != 1 {
		t.Errorf("request count = %d, want 1 (429 is not retryable)", calls)
	}
}

func TestChatNotConfigured(t *testing.T) {
	for _, key := range []string{"", "  ", config.PlaceholderAPIKey} {
		cfg := testConfig("http://unused", "gpt-4o-mini")
		cfg.APIKey = key
		c := New(cfg)
		_, err := c.Chat(context.Background(), nil, "")
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("key %q: error = %v, want ErrNotConfigured", key, err)
		}
	}
}

func TestResponsesProtocolWithAccountID(t *testing.T) {
	accountCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		accountCalls++
		_, _ = w.Write([]byte(`{"account_id":"acct-42"}`))
	})

	var gotPath string
	var gotBody map[string]any
	mux.HandleFunc(responsesPath, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"output":[{"type":"message","content":[{"type":"output_text","text":"done"}]}]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL, "o3-mini")
	cfg.AccountURL = srv.URL + "/account"
	c := New(cfg)

	for i := 0; i < 3; i++ {
		reply, err := c.Chat(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "go"}}, "")
		if err != nil {
			t.Fatalf("Chat() #%d error = %v", i, err)
		}
		if reply.Text != "done" {
			t.Errorf("Text = %q, want %q", reply.Text, "done")
		}
	}

	if gotPath != responsesPath {
		t.Errorf("path = %q, want %q", gotPath, responsesPath)
	}
	if _, ok := gotBody["input"]; !ok {
		t.Error("responses payload missing input array")
	}
	if gotBody["account"] != "acct-42" {
		t.Errorf("account = %v, want acct-42", gotBody["account"])
	}
	if accountCalls != 1 {
		t.Errorf("account resolution calls = %d, want 1 (cached)", accountCalls)
	}
}

func TestAccountResolutionFailureIsPermanent(t *testing.T) {
	accountCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountCalls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "gpt-5")
	cfg.AccountURL = srv.URL + "/account"
	c := New(cfg)

	for i := 0; i < 2; i++ {
		_, err := c.Chat(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "go"}}, "")
		if err == nil {
			t.Fatalf("Chat() #%d error = nil, want account resolution failure", i)
		}
	}
	if accountCalls != 1 {
		t.Errorf("account resolution calls = %d, want 1 (failure cached)", accountCalls)
	}
}

func TestChatInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only cancels r.Context() on client disconnect once the
		// request body has been consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "gpt-4o-mini"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Chat(ctx, []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("error = %v, want ErrInterrupted", err)
	}
}

func TestChatTimeoutIsNotInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "gpt-4o-mini")
	cfg.RequestTimeout = 50 * time.Millisecond
	c := New(cfg)

	_, err := c.Chat(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, "")
	if err == nil {
		t.Fatal("Chat() error = nil, want timeout error")
	}
	if errors.Is(err, ErrInterrupted) {
		t.Errorf("error = %v, must not be classified as an interruption", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded in the chain", err)
	}
}

func TestUsesResponses(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"o3-mini", true},
		{"O1-preview", true},
		{"gpt-5-turbo", true},
		{"codex-mini", true},
		{"gpt-4o-mini", false},
		{"claude-3", false},
	}
	for _, tt := range tests {
		c := New(testConfig("http://unused", tt.model))
		if got := c.usesResponses(); got != tt.want {
			t.Errorf("usesResponses(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
