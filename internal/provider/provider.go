// Package provider implements the AI backend adapter: request construction
// for the two wire protocols, multi-shape response parsing, and the
// degraded-payload retry policy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/hostpilot/internal/config"
	"github.com/ashureev/hostpilot/internal/domain"
)

const (
	// defaultPersona is injected when the configured system prompt is empty
	// or blank after trimming.
	defaultPersona = "You are a helpful operations assistant. Answer concisely and use the available tools when they help."

	// minimalGreeting is the constant user message used when the degraded
	// retry payload finds no user message to carry over.
	minimalGreeting = "Hello"

	// maxBodySnippet bounds the raw-body excerpt carried in errors.
	maxBodySnippet = 200

	// maxResponseBytes caps how much of a backend response is read.
	maxResponseBytes = 4 << 20 // 4MB

	reasoningEffort = "medium"

	completionsPath = "/v1/chat/completions"
	responsesPath   = "/v1/responses"
)

// responsesFamilies selects the "responses" wire protocol by model name.
// Everything else goes through the chat-completions protocol.
var responsesFamilies = []string{"o1", "o3", "o4", "gpt-5", "codex"}

// Reply is a successfully parsed AI reply.
type Reply struct {
	Text    string
	Thought string
}

// Client is the AI backend adapter. One Client serves one configured backend;
// the cached account id lives for the Client's lifetime.
type Client struct {
	httpClient *http.Client
	cfg        config.ProviderConfig
	hasKey     bool

	accountOnce sync.Once
	accountID   string
	accountErr  error
}

// New creates an adapter for the configured backend.
func New(cfg config.ProviderConfig) *Client {
	key := strings.TrimSpace(cfg.APIKey)
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second},
		cfg:        cfg,
		hasKey:     key != "" && key != config.PlaceholderAPIKey,
	}
}

// usesResponses reports whether the configured model speaks the
// responses-style protocol.
func (c *Client) usesResponses() bool {
	model := strings.ToLower(c.cfg.Model)
	for _, family := range responsesFamilies {
		if strings.HasPrefix(model, family) {
			return true
		}
	}
	return false
}

// Chat sends the session history to the backend and returns the parsed reply.
// On HTTP 400/500 from the primary payload it rebuilds a minimal payload and
// resubmits once; if the retry also fails, the retry's error is surfaced.
func (c *Client) Chat(ctx context.Context, history []domain.Message, systemPrompt string) (*Reply, error) {
	if !c.hasKey {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	reply, err := c.send(ctx, buildMessages(history, systemPrompt))
	if err == nil {
		return reply, nil
	}

	var provErr *ProviderError
	if !errors.As(err, &provErr) || !retryableStatus(provErr.Status) {
		return nil, err
	}

	slog.Debug("ai primary payload rejected, retrying with minimal payload",
		"status", provErr.Status, "model", c.cfg.Model)

	reply, retryErr := c.send(ctx, minimalMessages(history))
	if retryErr != nil {
		return nil, retryErr
	}
	return reply, nil
}

// buildMessages assembles the wire message array shared by both protocols:
// exactly one system message first, filtered history, and a synthetic user
// message if the filtered payload would otherwise be degenerate.
func buildMessages(history []domain.Message, systemPrompt string) []domain.Message {
	system := strings.TrimSpace(systemPrompt)
	if system == "" {
		system = defaultPersona
	}

	out := make([]domain.Message, 0, len(history)+2)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: system})

	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" || m.Role == "" {
			continue
		}
		// Only one system message is allowed on the wire.
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, domain.Message{Role: m.Role, Content: content})
	}

	// The backend must never receive a system message alone.
	if len(out) <= 1 {
		out = append(out, domain.Message{Role: domain.RoleUser, Content: minimalGreeting})
	}
	return out
}

// minimalMessages builds the degraded retry payload: the default persona plus
// the single most recent user message, scanning history backward.
func minimalMessages(history []domain.Message) []domain.Message {
	last := minimalGreeting
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser && strings.TrimSpace(history[i].Content) != "" {
			last = strings.TrimSpace(history[i].Content)
			break
		}
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: defaultPersona},
		{Role: domain.RoleUser, Content: last},
	}
}

// wireMessage is the JSON form shared by both request protocols.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWire(msgs []domain.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// send submits one request and parses the response through the shape-matcher
// chain.
func (c *Client) send(ctx context.Context, msgs []domain.Message) (*Reply, error) {
	var (
		path    string
		payload any
	)
	if c.usesResponses() {
		accountID, err := c.resolveAccountID(ctx)
		if err != nil {
			return nil, err
		}
		path = responsesPath
		payload = map[string]any{
			"model":     c.cfg.Model,
			"input":     toWire(msgs),
			"account":   accountID,
			"reasoning": map[string]string{"effort": reasoningEffort},
		}
	} else {
		path = completionsPath
		payload = map[string]any{
			"model":            c.cfg.Model,
			"messages":         toWire(msgs),
			"reasoning_effort": reasoningEffort,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, "ai request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, "read ai response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Status: resp.StatusCode, Body: snippet(raw)}
	}

	return parseReplyBody(raw)
}

// transportError classifies a failed request. Cancellation of the caller's
// context marks the turn interrupted and discarded; the per-call deadline
// expiring is an ordinary backend failure the user must hear about.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("ai request timed out after %s: %w", c.cfg.RequestTimeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// resolveAccountID fetches the backend account/tenant id once and caches the
// result, including failure, for the adapter's lifetime. A failed resolution
// is a hard error for every subsequent call until the adapter is rebuilt.
func (c *Client) resolveAccountID(ctx context.Context) (string, error) {
	if c.cfg.AccountURL == "" {
		return "", nil
	}

	c.accountOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AccountURL, nil)
		if err != nil {
			c.accountErr = fmt.Errorf("build account request: %w", err)
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.accountErr = fmt.Errorf("resolve account id: %w", err)
			return
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			c.accountErr = fmt.Errorf("read account response: %w", err)
			return
		}
		if resp.StatusCode != http.StatusOK {
			c.accountErr = &ProviderError{Status: resp.StatusCode, Body: snippet(raw)}
			return
		}

		var parsed struct {
			AccountID string `json:"account_id"`
			ID        string `json:"id"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			c.accountErr = fmt.Errorf("decode account response: %w", err)
			return
		}
		if parsed.AccountID != "" {
			c.accountID = parsed.AccountID
		} else {
			c.accountID = parsed.ID
		}
		if c.accountID == "" {
			c.accountErr = &ParseError{Snippet: snippet(raw)}
			return
		}
		slog.Info("ai account id resolved")
	})

	return c.accountID, c.accountErr
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet]
	}
	return strings.TrimSpace(s)
}
