// ABOUTME: Tracks registered agents, their capabilities, and liveness state
// ABOUTME: Sole writer of agent liveness; registration guarded by session tokens

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/agent-mesh/internal/auth"
	"github.com/2389/agent-mesh/internal/realtime"
)

// Registry errors
var (
	// ErrDuplicateRegistration means the identity is already held by a live
	// process and the caller did not present its session token.
	ErrDuplicateRegistration = errors.New("agent already registered")

	// ErrUnknownAgent means the identity was never registered or has been
	// deregistered.
	ErrUnknownAgent = errors.New("agent not found")

	// ErrAgentUnreachable means the agent decayed to unreachable; only a
	// fresh registration restarts its cycle.
	ErrAgentUnreachable = errors.New("agent is unreachable")

	// ErrInvalidAgentID means the identifier is empty, reserved, or malformed.
	ErrInvalidAgentID = errors.New("invalid agent id")
)

// Broadcast is the reserved target identifier for messages addressed to
// all healthy agents. It can never be registered as an agent identity.
const Broadcast = "broadcast"

// Agent is a snapshot of a registered agent.
type Agent struct {
	ID            string
	Capabilities  []string
	Owner         string
	State         State
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// Registration is the result of a successful Register call.
type Registration struct {
	Agent        Agent
	SessionToken string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	State State
	Owner string
}

// Transition records a single liveness state change applied by AdvanceStale.
type Transition struct {
	AgentID string
	From    State
	To      State
}

// EventSink receives registry events. Implemented by realtime.Hub.
type EventSink interface {
	Publish(evt realtime.Event)
}

// record is the registry's internal per-agent state. The session token and
// miss counter never leave the registry.
type record struct {
	agent        Agent
	sessionToken string
	misses       int
}

// Registry holds the set of known agents and is the only writer of their
// liveness state. All access is serialized through a single mutex; reads
// hand out copies so callers can never mutate a record.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*record
	issuer  *auth.SessionIssuer
	events  EventSink
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates a Registry. The event sink may be nil.
func New(issuer *auth.SessionIssuer, events EventSink, logger *slog.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]*record),
		issuer:  issuer,
		events:  events,
		logger:  logger.With("component", "registry"),
		nowFunc: time.Now,
	}
}

// Register creates or refreshes an agent record. The state passes through
// registering and lands healthy. If the identity is currently healthy,
// the caller must present the session token from its previous registration
// or the call fails with ErrDuplicateRegistration.
func (r *Registry) Register(id string, capabilities []string, owner, sessionToken string) (*Registration, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()

	if rec, exists := r.agents[id]; exists && rec.agent.State == StateHealthy {
		if !r.sessionMatches(rec, sessionToken) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRegistration, id)
		}
	}

	token, err := r.issuer.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("issuing session token: %w", err)
	}

	rec := &record{
		agent: Agent{
			ID:            id,
			Capabilities:  append([]string(nil), capabilities...),
			Owner:         owner,
			State:         StateRegistering,
			LastHeartbeat: now,
			RegisteredAt:  now,
		},
		sessionToken: token,
	}
	r.agents[id] = rec

	// Registration completes synchronously: registering is observable only
	// as the entry state of the cycle, then the agent is healthy.
	rec.agent.State = StateHealthy

	r.logger.Info("agent registered",
		"agent_id", id,
		"capabilities", capabilities,
		"owner", owner,
		"total_agents", len(r.agents),
	)
	r.publish(realtime.Event{
		Type:    realtime.EventAgentRegistered,
		AgentID: id,
		State:   string(StateHealthy),
	})

	return &Registration{Agent: rec.agent, SessionToken: token}, nil
}

// sessionMatches reports whether the supplied token is the live session
// token for the record. Must be called with mu held.
func (r *Registry) sessionMatches(rec *record, token string) bool {
	if token == "" || token != rec.sessionToken {
		return false
	}
	agentID, err := r.issuer.Verify(token)
	return err == nil && agentID == rec.agent.ID
}

// Heartbeat updates the agent's last-heartbeat timestamp. A degraded agent
// is promoted back to healthy. Safe to repeat; timeouts on the caller side
// never leave the registry inconsistent.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists || rec.agent.State == StateDeregistered {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if rec.agent.State == StateUnreachable {
		return fmt.Errorf("%w: %s", ErrAgentUnreachable, id)
	}

	rec.agent.LastHeartbeat = r.nowFunc()
	rec.misses = 0

	if rec.agent.State == StateDegraded {
		rec.agent.State = StateHealthy
		r.logger.Info("agent recovered", "agent_id", id)
		r.publish(realtime.Event{
			Type:    realtime.EventAgentStateChanged,
			AgentID: id,
			State:   string(StateHealthy),
			Detail:  "heartbeat received",
		})
	}

	return nil
}

// Deregister removes the agent from active duty. Idempotent: repeated
// calls and calls for unknown identities succeed silently.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists || rec.agent.State == StateDeregistered {
		return
	}

	rec.agent.State = StateDeregistered
	rec.sessionToken = ""

	r.logger.Info("agent deregistered", "agent_id", id)
	r.publish(realtime.Event{
		Type:    realtime.EventAgentDeregistered,
		AgentID: id,
		State:   string(StateDeregistered),
	})
}

// List returns a snapshot of agents matching the filter, ordered by
// registration time. Deregistered agents are excluded.
func (r *Registry) List(filter Filter) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]Agent, 0, len(r.agents))
	for _, rec := range r.agents {
		if rec.agent.State == StateDeregistered {
			continue
		}
		if filter.State != "" && rec.agent.State != filter.State {
			continue
		}
		if filter.Owner != "" && rec.agent.Owner != filter.Owner {
			continue
		}
		agents = append(agents, rec.agent)
	}

	sort.Slice(agents, func(i, j int) bool {
		if agents[i].RegisteredAt.Equal(agents[j].RegisteredAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].RegisteredAt.Before(agents[j].RegisteredAt)
	})
	return agents
}

// Get returns a snapshot of a single agent.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.agents[id]
	if !exists || rec.agent.State == StateDeregistered {
		return Agent{}, false
	}
	return rec.agent, true
}

// IsRegistered reports whether the identity holds a live registration.
// Implements the router's AgentDirectory interface.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.agents[id]
	return exists && rec.agent.State.active()
}

// HealthyIDs returns the identifiers of all currently healthy agents.
// Used to snapshot broadcast recipients at send time.
func (r *Registry) HealthyIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id, rec := range r.agents {
		if rec.agent.State == StateHealthy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of active and healthy agents.
func (r *Registry) Counts() (active, healthy int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.agents {
		if rec.agent.State.active() {
			active++
		}
		if rec.agent.State == StateHealthy {
			healthy++
		}
	}
	return active, healthy
}

// AdvanceStale applies at most one liveness transition per stale agent:
// healthy→degraded on the first expired window, degraded→unreachable once
// the consecutive miss count reaches missLimit. Agents mid-registration
// are never touched. Called by the heartbeat monitor each cycle.
func (r *Registry) AdvanceStale(now time.Time, threshold time.Duration, missLimit int) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transitions []Transition
	for id, rec := range r.agents {
		if now.Sub(rec.agent.LastHeartbeat) <= threshold {
			continue
		}

		switch rec.agent.State {
		case StateHealthy:
			rec.misses = 1
			rec.agent.State = StateDegraded
			transitions = append(transitions, Transition{AgentID: id, From: StateHealthy, To: StateDegraded})

		case StateDegraded:
			rec.misses++
			if rec.misses >= missLimit {
				rec.agent.State = StateUnreachable
				rec.sessionToken = ""
				transitions = append(transitions, Transition{AgentID: id, From: StateDegraded, To: StateUnreachable})
			}
		}
	}

	for _, tr := range transitions {
		r.logger.Warn("agent liveness decayed",
			"agent_id", tr.AgentID,
			"from", tr.From,
			"to", tr.To,
		)
		r.publish(realtime.Event{
			Type:    realtime.EventAgentStateChanged,
			AgentID: tr.AgentID,
			State:   string(tr.To),
			Detail:  "missed heartbeat window",
		})
	}

	return transitions
}

// publish forwards an event to the sink if one is attached.
// Must be cheap: called with mu held.
func (r *Registry) publish(evt realtime.Event) {
	if r.events != nil {
		r.events.Publish(evt)
	}
}

// validateID rejects empty, reserved, and whitespace-containing identifiers.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAgentID)
	}
	if id == Broadcast {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAgentID, Broadcast)
	}
	if strings.ContainsAny(id, " \t\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidAgentID, id)
	}
	return nil
}
