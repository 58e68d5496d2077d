// ABOUTME: Client for the external language-model completion service
// ABOUTME: Strips agent mentions, fails fast on auth errors, degrades instead of crashing

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// EnvAPIKey is the environment variable holding the bearer credential for
// the completion service. Its absence puts the gateway in fallback mode.
const EnvAPIKey = "MESH_COMPLETION_API_KEY"

// ErrEmptyPrompt means there is nothing to complete.
var ErrEmptyPrompt = errors.New("empty prompt")

// fallbackText is the deterministic response used whenever the completion
// service cannot be reached. Callers treat degraded results as valid but
// lower-confidence.
const fallbackText = "Acknowledged. The completion service is unavailable, so this is an automatic reply."

// mentionPrefix matches leading @name addressing tokens so the external
// service only sees natural-language content.
var mentionPrefix = regexp.MustCompile(`^(?:@[A-Za-z0-9._-]+[:,]?\s*)+`)

// Result is the outcome of a completion call. Degraded results come from
// the local fallback path, not the external service.
type Result struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Degraded bool   `json:"degraded"`
}

// Client wraps the completion service HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a completion client. An empty apiKey is allowed: every call
// then takes the fallback path instead of failing.
func New(baseURL, model, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: 1024,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryDelay: 500 * time.Millisecond,
		logger:     logger.With("component", "completion"),
	}
}

// completionRequest is the JSON body sent to the completion service.
type completionRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

// chatMessage is a single conversation turn.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionResponse is the JSON body returned by the completion service.
type completionResponse struct {
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete forwards a prompt to the completion service and returns the
// generated text. Mention prefixes are stripped first. Authentication
// failures and unavailability produce a degraded fallback result rather
// than an error; transient network failures are retried exactly once.
func (c *Client) Complete(ctx context.Context, prompt string, history []string) (*Result, error) {
	stripped := StripMentions(prompt)
	if stripped == "" {
		return nil, ErrEmptyPrompt
	}

	if c.apiKey == "" {
		c.logger.Debug("no credential configured, using fallback")
		return c.fallback(), nil
	}

	messages := make([]chatMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: "user", Content: turn})
	}
	messages = append(messages, chatMessage{Role: "user", Content: stripped})

	result, retryable := c.attempt(ctx, messages)
	if result != nil {
		return result, nil
	}
	if !retryable {
		return c.fallback(), nil
	}

	// One retry after a short fixed delay, transient failures only
	select {
	case <-ctx.Done():
		return c.fallback(), nil
	case <-time.After(c.retryDelay):
	}

	if result, _ := c.attempt(ctx, messages); result != nil {
		return result, nil
	}
	return c.fallback(), nil
}

// attempt performs a single completion request. Returns a nil result with
// retryable=true for transient failures, retryable=false for terminal ones.
func (c *Client) attempt(ctx context.Context, messages []chatMessage) (result *Result, retryable bool) {
	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	})
	if err != nil {
		c.logger.Error("encoding completion request", "error", err)
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("completion request failed", "error", err)
		return nil, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Parsed below

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Never retry on authentication errors
		c.logger.Warn("completion service rejected credential", "status", resp.StatusCode)
		return nil, false

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Warn("completion service unavailable", "status", resp.StatusCode)
		return nil, true

	default:
		c.logger.Warn("completion request rejected", "status", resp.StatusCode)
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true
	}

	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		c.logger.Warn("decoding completion response", "error", err)
		return nil, false
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return &Result{Text: text.String(), Model: model}, false
}

// fallback returns the deterministic degraded-mode result.
func (c *Client) fallback() *Result {
	return &Result{
		Text:     fallbackText,
		Model:    "fallback",
		Degraded: true,
	}
}

// StripMentions removes leading @name addressing tokens from a prompt.
func StripMentions(prompt string) string {
	return strings.TrimSpace(mentionPrefix.ReplaceAllString(strings.TrimSpace(prompt), ""))
}

// Mentions returns the agent names addressed by leading @name tokens.
func Mentions(prompt string) []string {
	prefix := mentionPrefix.FindString(strings.TrimSpace(prompt))
	if prefix == "" {
		return nil
	}

	var names []string
	for _, field := range strings.Fields(prefix) {
		name := strings.TrimRight(strings.TrimPrefix(field, "@"), ":,")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
