// ABOUTME: HTTP client for the coordinator API used by agent processes
// ABOUTME: Surfaces the wire error taxonomy so callers can pick a retry policy

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/agent-mesh/internal/api"
)

// APIError is a coordinator error envelope surfaced as a Go error.
type APIError struct {
	Kind    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Terminal reports whether retrying the same request can ever succeed.
// Validation, not-found, and conflict failures are terminal; everything
// else is worth a backoff and retry.
func (e *APIError) Terminal() bool {
	switch e.Kind {
	case api.KindValidation, api.KindNotFound, api.KindConflict:
		return true
	}
	return false
}

// Client talks to a coordinator over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a coordinator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Register registers or re-registers an agent identity.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/api/agents/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat reports liveness for the given agent.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	path := "/api/agents/" + url.PathEscape(agentID) + "/heartbeat"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Deregister removes the agent from the coordinator. Safe to call twice.
func (c *Client) Deregister(ctx context.Context, agentID string) error {
	path := "/api/agents/" + url.PathEscape(agentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Send routes a message to a target agent or to "broadcast".
func (c *Client) Send(ctx context.Context, sender, target, payload string) (*api.SendResponse, error) {
	var resp api.SendResponse
	req := api.SendRequest{Sender: sender, Target: target, Payload: payload}
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll fetches undelivered messages for the agent after the given cursor.
func (c *Client) Poll(ctx context.Context, agentID string, since int64, limit int) ([]api.MessageResponse, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)
	if since > 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp api.PollResponse
	if err := c.do(ctx, http.MethodGet, "/api/messages/poll?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Health fetches the coordinator liveness probe.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Agents lists the registered agents.
func (c *Client) Agents(ctx context.Context) ([]api.AgentResponse, error) {
	var resp api.ListAgentsResponse
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// do performs one request, decoding either the success body into out or
// the error envelope into an *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope api.ErrorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil || envelope.Error.Kind == "" {
			return &APIError{
				Kind:    api.KindTransient,
				Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
				Status:  resp.StatusCode,
			}
		}
		return &APIError{
			Kind:    envelope.Error.Kind,
			Message: envelope.Error.Message,
			Status:  resp.StatusCode,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
