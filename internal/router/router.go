// ABOUTME: Routes point-to-point and broadcast messages between agents
// ABOUTME: Validates targets, snapshots broadcast recipients, and enforces retention

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agent-mesh/internal/realtime"
	"github.com/2389/agent-mesh/internal/registry"
	"github.com/2389/agent-mesh/internal/store"
)

// Router errors
var (
	// ErrSelfSend means sender and target are the same agent; no record is created
	ErrSelfSend = errors.New("agent cannot message itself")

	// ErrUnknownTarget means the target is neither broadcast nor a registered agent
	ErrUnknownTarget = errors.New("unknown target agent")

	// ErrUnknownConsumer means the polling agent holds no registration
	ErrUnknownConsumer = errors.New("unknown consumer agent")

	// ErrEmptyPayload means the message has no content
	ErrEmptyPayload = errors.New("empty payload")

	// ErrEmptySender means the sender identifier is missing
	ErrEmptySender = errors.New("empty sender")
)

// AgentDirectory is the registry view the router needs: target existence
// checks and the healthy set for broadcast fan-out.
type AgentDirectory interface {
	IsRegistered(id string) bool
	HealthyIDs() []string
}

// EventSink receives router events. Implemented by realtime.Hub.
type EventSink interface {
	Publish(evt realtime.Event)
}

// Router delivers messages between agents through the message store.
// It owns Message records: it assigns identifiers, snapshots broadcast
// recipients at send time, and is the only writer of delivery marks
// (via the store's transactional poll).
type Router struct {
	store     store.Store
	agents    AgentDirectory
	events    EventSink
	retention time.Duration
	sweep     time.Duration
	logger    *slog.Logger
}

// New creates a Router. The event sink may be nil.
func New(st store.Store, agents AgentDirectory, events EventSink, retention, sweepInterval time.Duration, logger *slog.Logger) *Router {
	return &Router{
		store:     st,
		agents:    agents,
		events:    events,
		retention: retention,
		sweep:     sweepInterval,
		logger:    logger.With("component", "router"),
	}
}

// Send validates and stores a message, returning it with its assigned
// identifier. Self-sends are rejected before any record is created.
// Broadcast recipients are the agents healthy right now; agents that
// register later never receive the message.
func (r *Router) Send(ctx context.Context, sender, target, payload string) (*store.Message, error) {
	if sender == "" {
		return nil, ErrEmptySender
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if target != registry.Broadcast && sender == target {
		return nil, fmt.Errorf("%w: %s", ErrSelfSend, sender)
	}

	var recipients []string
	if target == registry.Broadcast {
		for _, id := range r.agents.HealthyIDs() {
			if id != sender {
				recipients = append(recipients, id)
			}
		}
	} else {
		if !r.agents.IsRegistered(target) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
		}
		recipients = []string{target}
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Target:    target,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if _, err := r.store.SaveMessage(ctx, msg, recipients); err != nil {
		return nil, fmt.Errorf("%w: storing message: %v", store.ErrUnavailable, err)
	}

	r.logger.Debug("message routed",
		"message_id", msg.ID,
		"sender", sender,
		"target", target,
		"recipients", len(recipients),
	)
	r.publish(realtime.Event{
		Type:      realtime.EventMessageRouted,
		AgentID:   sender,
		MessageID: msg.ID,
		Detail:    target,
	})

	return msg, nil
}

// Poll returns messages addressed to the agent (directly or as a broadcast
// recipient) with sequence greater than since, oldest first. Delivery is
// marked atomically with the read, so a crashed consumer that re-polls
// with a stale cursor never sees the same message twice.
func (r *Router) Poll(ctx context.Context, agentID string, since int64, limit int) ([]*store.Message, error) {
	if !r.agents.IsRegistered(agentID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConsumer, agentID)
	}

	messages, err := r.store.PollMessages(ctx, agentID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: polling messages: %v", store.ErrUnavailable, err)
	}
	return messages, nil
}

// Recent returns the most recently routed messages, newest first.
func (r *Router) Recent(ctx context.Context, limit int) ([]*store.Message, error) {
	messages, err := r.store.RecentMessages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: reading recent messages: %v", store.ErrUnavailable, err)
	}
	return messages, nil
}

// Run executes the retention sweep loop until the context is cancelled.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("retention sweep started",
		"retention", r.retention,
		"interval", r.sweep,
	)

	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retention sweep stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx, time.Now())
		}
	}
}

// Sweep runs a single retention pass: messages older than the retention
// window that still have pending recipients are reported as undelivered,
// never silently dropped.
func (r *Router) Sweep(ctx context.Context, now time.Time) {
	expired, err := r.store.ExpireBefore(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.Error("retention sweep failed", "error", err)
		return
	}

	for _, msg := range expired {
		r.logger.Warn("message expired undelivered",
			"message_id", msg.ID,
			"sender", msg.Sender,
			"target", msg.Target,
			"age", now.Sub(msg.CreatedAt),
		)
		r.publish(realtime.Event{
			Type:      realtime.EventMessageExpired,
			AgentID:   msg.Target,
			MessageID: msg.ID,
			Detail:    "retention window expired",
		})
	}
}

// publish forwards an event to the sink if one is attached.
func (r *Router) publish(evt realtime.Event) {
	if r.events != nil {
		r.events.Publish(evt)
	}
}
