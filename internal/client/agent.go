// ABOUTME: Agent run loop: register, heartbeat, poll, and reply via completions
// ABOUTME: Handles re-registration after heartbeat failure and restart recovery

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/2389/agent-mesh/internal/api"
	"github.com/2389/agent-mesh/internal/completion"
	"github.com/2389/agent-mesh/internal/dedupe"
)

const (
	defaultHeartbeatPeriod = 10 * time.Second
	defaultPollInterval    = 2 * time.Second

	// Consecutive heartbeat failures before the agent assumes the
	// coordinator has forgotten it and re-registers.
	heartbeatMissLimit = 3

	registerBackoffBase = time.Second
	registerBackoffCap  = 30 * time.Second

	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 4096
)

// AgentConfig describes one agent process.
type AgentConfig struct {
	ID              string
	Capabilities    []string
	Owner           string
	ServerURL       string
	DataDir         string
	HeartbeatPeriod time.Duration
	PollInterval    time.Duration
}

// Agent is a mesh participant: it maintains its registration, polls for
// messages, and answers them through the completion gateway.
type Agent struct {
	cfg         AgentConfig
	api         *Client
	completions *completion.Client
	tracker     *dedupe.Tracker
	state       *checkpoint
	logger      *slog.Logger

	cursor          int64
	heartbeatMisses int
}

// NewAgent builds an agent around the given coordinator and completion
// clients. State is persisted under cfg.DataDir.
func NewAgent(cfg AgentConfig, completions *completion.Client, logger *slog.Logger) (*Agent, error) {
	if cfg.ID == "" {
		return nil, errors.New("agent id is required")
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = defaultHeartbeatPeriod
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	state, err := newCheckpoint(cfg.DataDir, cfg.ID)
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:         cfg,
		api:         NewClient(cfg.ServerURL),
		completions: completions,
		tracker:     dedupe.NewTracker(dedupeTTL, dedupeMaxSize),
		state:       state,
		logger:      logger.With("agent", cfg.ID),
	}, nil
}

// Run registers the agent and drives the heartbeat and poll loops until
// the context is cancelled, then deregisters cleanly.
func (a *Agent) Run(ctx context.Context) error {
	defer a.tracker.Close()

	a.cursor = a.state.loadCursor()

	if err := a.register(ctx); err != nil {
		return err
	}

	heartbeat := time.NewTicker(a.cfg.HeartbeatPeriod)
	defer heartbeat.Stop()
	poll := time.NewTicker(a.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-heartbeat.C:
			a.beat(ctx)
		case <-poll.C:
			a.pollOnce(ctx)
		}
	}
}

// register claims the agent identity, retrying transient failures with
// capped exponential backoff. A stored session token from a previous run
// lets the same identity re-register without tripping the duplicate guard.
func (a *Agent) register(ctx context.Context) error {
	backoff := NewBackoff(registerBackoffBase, registerBackoffCap)

	for {
		resp, err := a.api.Register(ctx, api.RegisterRequest{
			AgentID:      a.cfg.ID,
			Capabilities: a.cfg.Capabilities,
			Owner:        a.cfg.Owner,
			SessionToken: a.state.loadSession(),
		})
		if err == nil {
			if err := a.state.saveSession(resp.SessionToken); err != nil {
				a.logger.Warn("session token not persisted", "error", err)
			}
			a.heartbeatMisses = 0
			a.logger.Info("registered", "state", resp.State)
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Terminal() {
			return fmt.Errorf("registration rejected: %w", err)
		}

		delay := backoff.Next()
		a.logger.Warn("registration failed, retrying", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// beat sends one heartbeat. After heartbeatMissLimit consecutive
// failures, or as soon as the coordinator reports the agent unknown or
// unreachable, the agent falls back to re-registration.
func (a *Agent) beat(ctx context.Context) {
	err := a.api.Heartbeat(ctx, a.cfg.ID)
	if err == nil {
		a.heartbeatMisses = 0
		return
	}

	a.heartbeatMisses++
	a.logger.Warn("heartbeat failed", "error", err, "misses", a.heartbeatMisses)

	var apiErr *APIError
	forgotten := errors.As(err, &apiErr) && apiErr.Terminal()
	if !forgotten && a.heartbeatMisses < heartbeatMissLimit {
		return
	}

	// An unreachable identity keeps its token but the coordinator will
	// not accept heartbeats for it, so drop the session and start over.
	if forgotten {
		a.state.clearSession()
	}
	if err := a.register(ctx); err != nil {
		a.logger.Error("re-registration failed", "error", err)
	}
}

// pollOnce fetches pending messages, advances the durable cursor, and
// answers each message through the completion gateway.
func (a *Agent) pollOnce(ctx context.Context) {
	messages, err := a.api.Poll(ctx, a.cfg.ID, a.cursor, 0)
	if err != nil {
		a.logger.Warn("poll failed", "error", err)
		return
	}

	for _, msg := range messages {
		if msg.Seq > a.cursor {
			a.cursor = msg.Seq
			if err := a.state.saveCursor(a.cursor); err != nil {
				a.logger.Warn("cursor not persisted", "error", err)
			}
		}

		if a.tracker.Delivered(msg.ID) {
			a.logger.Debug("duplicate message skipped", "message_id", msg.ID)
			continue
		}
		a.handleMessage(ctx, msg)
	}
}

// handleMessage replies to direct messages and to broadcasts that
// mention this agent. Unaddressed broadcast chatter gets no reply, which
// keeps two agents from answering each other forever.
func (a *Agent) handleMessage(ctx context.Context, msg api.MessageResponse) {
	if msg.Target == "broadcast" && !slices.Contains(completion.Mentions(msg.Payload), a.cfg.ID) {
		return
	}

	res, err := a.completions.Complete(ctx, msg.Payload, nil)
	if err != nil {
		a.logger.Warn("completion failed", "error", err, "message_id", msg.ID)
		return
	}
	if res.Degraded {
		a.logger.Info("replying in degraded mode", "message_id", msg.ID)
	}

	if _, err := a.api.Send(ctx, a.cfg.ID, msg.Sender, res.Text); err != nil {
		a.logger.Warn("reply not delivered", "error", err, "to", msg.Sender)
	}
}

// shutdown deregisters with a short grace period so the roster stays
// clean even though the run context is already cancelled.
func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.api.Deregister(ctx, a.cfg.ID); err != nil {
		a.logger.Warn("deregister failed", "error", err)
	} else {
		a.logger.Info("deregistered")
	}
}
