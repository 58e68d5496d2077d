// ABOUTME: End-to-end agent loop tests against a real coordinator
// ABOUTME: Covers registration, replies, broadcast addressing, and restart recovery

package client

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-mesh/internal/api"
	"github.com/2389/agent-mesh/internal/completion"
	"github.com/2389/agent-mesh/internal/config"
)

func startMesh(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "mesh.db")

	srv, err := api.New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// fallbackCompletions returns a completion client with no credential, so
// every reply takes the degraded path without touching the network.
func fallbackCompletions(t *testing.T) *completion.Client {
	t.Helper()
	return completion.New("http://127.0.0.1:1", "test-model", "", time.Second, slog.New(slog.DiscardHandler))
}

func newTestAgent(t *testing.T, ts *httptest.Server, id string) *Agent {
	t.Helper()
	a, err := NewAgent(AgentConfig{
		ID:              id,
		Capabilities:    []string{"chat"},
		ServerURL:       ts.URL,
		DataDir:         t.TempDir(),
		HeartbeatPeriod: 50 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
	}, fallbackCompletions(t), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return a
}

func TestAgent_RepliesToDirectMessage(t *testing.T) {
	ts := startMesh(t)
	manager := NewClient(ts.URL)
	ctx := context.Background()

	_, err := manager.Register(ctx, api.RegisterRequest{AgentID: "manager"})
	require.NoError(t, err)

	agent := newTestAgent(t, ts, "maya")
	agentCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- agent.Run(agentCtx) }()

	require.Eventually(t, func() bool {
		agents, err := manager.Agents(ctx)
		return err == nil && len(agents) == 2
	}, 2*time.Second, 10*time.Millisecond, "agent should register itself")

	_, err = manager.Send(ctx, "manager", "maya", "@maya status?")
	require.NoError(t, err)

	var replies []api.MessageResponse
	require.Eventually(t, func() bool {
		batch, err := manager.Poll(ctx, "manager", 0, 0)
		if err == nil {
			replies = append(replies, batch...)
		}
		return len(replies) > 0
	}, 2*time.Second, 20*time.Millisecond, "manager should receive a reply")

	assert.Equal(t, "maya", replies[0].Sender)
	assert.NotEmpty(t, replies[0].Payload)

	stop()
	require.NoError(t, <-done)

	// Shutdown deregisters the agent
	agents, err := manager.Agents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "manager", agents[0].ID)
}

func TestAgent_IgnoresUnaddressedBroadcast(t *testing.T) {
	ts := startMesh(t)
	manager := NewClient(ts.URL)
	ctx := context.Background()

	_, err := manager.Register(ctx, api.RegisterRequest{AgentID: "manager"})
	require.NoError(t, err)

	agent := newTestAgent(t, ts, "maya")
	agentCtx, stop := context.WithCancel(ctx)
	defer stop()
	go agent.Run(agentCtx)

	require.Eventually(t, func() bool {
		agents, err := manager.Agents(ctx)
		return err == nil && len(agents) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err = manager.Send(ctx, "manager", "broadcast", "general announcement")
	require.NoError(t, err)

	// Give the agent several poll cycles to (incorrectly) reply
	time.Sleep(200 * time.Millisecond)

	batch, err := manager.Poll(ctx, "manager", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, batch, "unaddressed broadcasts get no reply")
}

func TestAgent_RepliesToAddressedBroadcast(t *testing.T) {
	ts := startMesh(t)
	manager := NewClient(ts.URL)
	ctx := context.Background()

	_, err := manager.Register(ctx, api.RegisterRequest{AgentID: "manager"})
	require.NoError(t, err)

	agent := newTestAgent(t, ts, "maya")
	agentCtx, stop := context.WithCancel(ctx)
	defer stop()
	go agent.Run(agentCtx)

	require.Eventually(t, func() bool {
		agents, err := manager.Agents(ctx)
		return err == nil && len(agents) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err = manager.Send(ctx, "manager", "broadcast", "@maya report in")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		batch, err := manager.Poll(ctx, "manager", 0, 0)
		return err == nil && len(batch) > 0
	}, 2*time.Second, 20*time.Millisecond, "mentioned agent replies to broadcast")
}

func TestAgent_RegistrationRetriesThenTerminal(t *testing.T) {
	ts := startMesh(t)
	ctx := context.Background()

	// Occupy the identity so the agent's claim is a terminal conflict
	other := NewClient(ts.URL)
	_, err := other.Register(ctx, api.RegisterRequest{AgentID: "maya"})
	require.NoError(t, err)

	agent := newTestAgent(t, ts, "maya")
	err = agent.Run(ctx)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindConflict, apiErr.Kind)
}

func TestCheckpoint_CursorSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	cp, err := newCheckpoint(dir, "maya")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp.loadCursor(), "fresh checkpoint starts at zero")

	require.NoError(t, cp.saveCursor(42))
	require.NoError(t, cp.saveSession("token-abc"))

	reopened, err := newCheckpoint(dir, "maya")
	require.NoError(t, err)
	assert.Equal(t, int64(42), reopened.loadCursor())
	assert.Equal(t, "token-abc", reopened.loadSession())

	reopened.clearSession()
	assert.Empty(t, reopened.loadSession())
}
