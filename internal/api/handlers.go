// ABOUTME: HTTP handlers for agent registration, heartbeats, messaging, and stats
// ABOUTME: Thin JSON adapters over the registry and router

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/agent-mesh/internal/registry"
	"github.com/2389/agent-mesh/internal/store"
)

// RegisterRequest is the JSON request body for POST /api/agents/register.
type RegisterRequest struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities,omitempty"`
	Owner        string   `json:"owner,omitempty"`
	SessionToken string   `json:"session_token,omitempty"`
}

// RegisterResponse is the JSON response for a successful registration.
type RegisterResponse struct {
	AgentID      string `json:"agent_id"`
	SessionToken string `json:"session_token"`
	State        string `json:"state"`
	RegisteredAt string `json:"registered_at"`
}

// AgentResponse is the JSON shape of a single registry entry.
type AgentResponse struct {
	ID            string   `json:"id"`
	Capabilities  []string `json:"capabilities"`
	Owner         string   `json:"owner,omitempty"`
	State         string   `json:"state"`
	LastHeartbeat string   `json:"last_heartbeat"`
	RegisteredAt  string   `json:"registered_at"`
}

// ListAgentsResponse is the JSON response for GET /api/agents.
type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// SendRequest is the JSON request body for POST /api/messages/send.
type SendRequest struct {
	Sender  string `json:"sender"`
	Target  string `json:"target"`
	Payload string `json:"payload"`
}

// SendResponse is the JSON response for a routed message.
type SendResponse struct {
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// MessageResponse is the JSON shape of a delivered message.
type MessageResponse struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Target    string `json:"target"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status,omitempty"`
}

// PollResponse is the JSON response for GET /api/messages/poll.
type PollResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	AgentsActive        int   `json:"agents_active"`
	AgentsHealthy       int   `json:"agents_healthy"`
	MessagesTotal       int64 `json:"messages_total"`
	MessagesUndelivered int64 `json:"messages_undelivered"`
	UptimeSeconds       int64 `json:"uptime_seconds"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Agents    string `json:"agents"`
	Timestamp string `json:"timestamp"`
}

// handleRegister handles POST /api/agents/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error: ErrorDetail{Kind: KindValidation, Message: "invalid request body"},
		})
		return
	}

	res, err := s.registry.Register(req.AgentID, req.Capabilities, req.Owner, req.SessionToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{
		AgentID:      res.Agent.ID,
		SessionToken: res.SessionToken,
		State:        string(res.Agent.State),
		RegisteredAt: res.Agent.RegisteredAt.UTC().Format(time.RFC3339),
	})
}

// handleHeartbeat handles POST /api/agents/{id}/heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Heartbeat(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeregister handles DELETE /api/agents/{id}. Always succeeds.
func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	s.registry.Deregister(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleListAgents handles GET /api/agents with optional state/owner filters.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		State: registry.State(r.URL.Query().Get("state")),
		Owner: r.URL.Query().Get("owner"),
	}

	agents := s.registry.List(filter)
	resp := ListAgentsResponse{Agents: make([]AgentResponse, 0, len(agents))}
	for _, a := range agents {
		resp.Agents = append(resp.Agents, AgentResponse{
			ID:            a.ID,
			Capabilities:  a.Capabilities,
			Owner:         a.Owner,
			State:         string(a.State),
			LastHeartbeat: a.LastHeartbeat.UTC().Format(time.RFC3339),
			RegisteredAt:  a.RegisteredAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSend handles POST /api/messages/send.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error: ErrorDetail{Kind: KindValidation, Message: "invalid request body"},
		})
		return
	}

	msg, err := s.router.Send(r.Context(), req.Sender, req.Target, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		MessageID: msg.ID,
		Seq:       msg.Seq,
		CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// handlePoll handles GET /api/messages/poll?agent_id=&since=&limit=.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error: ErrorDetail{Kind: KindValidation, Message: "agent_id is required"},
		})
		return
	}

	since, err := parseIntParam(r, "since", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error: ErrorDetail{Kind: KindValidation, Message: err.Error()},
		})
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error: ErrorDetail{Kind: KindValidation, Message: err.Error()},
		})
		return
	}

	messages, err := s.router.Poll(r.Context(), agentID, since, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PollResponse{Messages: toMessageResponses(messages)})
}

// handleRecent handles GET /api/messages/recent?limit=.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error: ErrorDetail{Kind: KindValidation, Message: err.Error()},
		})
		return
	}

	messages, err := s.router.Recent(r.Context(), int(limit))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PollResponse{Messages: toMessageResponses(messages)})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	active, healthy := s.registry.Counts()
	total, undelivered, err := s.store.CountMessages(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("%w: counting messages: %v", store.ErrUnavailable, err))
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		AgentsActive:        active,
		AgentsHealthy:       healthy,
		MessagesTotal:       total,
		MessagesUndelivered: undelivered,
		UptimeSeconds:       int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleHealth handles GET /health, the liveness probe consumed by
// supervisors and dashboards.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, healthy := s.registry.Counts()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Agents:    fmt.Sprintf("%d/%d", healthy, active),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// parseIntParam reads a non-negative integer query parameter.
func parseIntParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	return v, nil
}

// toMessageResponses converts store messages to their wire shape.
func toMessageResponses(messages []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, MessageResponse{
			Seq:       m.Seq,
			ID:        m.ID,
			Sender:    m.Sender,
			Target:    m.Target,
			Payload:   m.Payload,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
			Status:    m.Status,
		})
	}
	return out
}
