// ABOUTME: Tests for the coordinator HTTP client against a real server
// ABOUTME: Covers registration, heartbeats, polling, and error classification

package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-mesh/internal/api"
	"github.com/2389/agent-mesh/internal/config"
)

func startCoordinator(t *testing.T) *Client {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "mesh.db")

	srv, err := api.New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL)
}

func TestClient_RegisterHeartbeatDeregister(t *testing.T) {
	c := startCoordinator(t)
	ctx := context.Background()

	resp, err := c.Register(ctx, api.RegisterRequest{AgentID: "maya"})
	require.NoError(t, err)
	assert.Equal(t, "maya", resp.AgentID)
	assert.NotEmpty(t, resp.SessionToken)

	require.NoError(t, c.Heartbeat(ctx, "maya"))
	require.NoError(t, c.Deregister(ctx, "maya"))

	err = c.Heartbeat(ctx, "maya")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindNotFound, apiErr.Kind)
	assert.True(t, apiErr.Terminal())
}

func TestClient_DuplicateRegistrationIsTerminal(t *testing.T) {
	c := startCoordinator(t)
	ctx := context.Background()

	_, err := c.Register(ctx, api.RegisterRequest{AgentID: "maya"})
	require.NoError(t, err)

	_, err = c.Register(ctx, api.RegisterRequest{AgentID: "maya"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindConflict, apiErr.Kind)
	assert.True(t, apiErr.Terminal())
}

func TestClient_SendAndPollCursor(t *testing.T) {
	c := startCoordinator(t)
	ctx := context.Background()

	_, err := c.Register(ctx, api.RegisterRequest{AgentID: "manager"})
	require.NoError(t, err)
	_, err = c.Register(ctx, api.RegisterRequest{AgentID: "maya"})
	require.NoError(t, err)

	first, err := c.Send(ctx, "manager", "maya", "one")
	require.NoError(t, err)
	_, err = c.Send(ctx, "manager", "maya", "two")
	require.NoError(t, err)

	messages, err := c.Poll(ctx, "maya", first.Seq, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1, "cursor excludes already-seen messages")
	assert.Equal(t, "two", messages[0].Payload)
}

func TestClient_UnreachableCoordinator(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")

	err := c.Heartbeat(context.Background(), "maya")
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport errors are not API errors")
}
