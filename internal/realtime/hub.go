// ABOUTME: WebSocket event hub broadcasting coordinator events to subscribers
// ABOUTME: Dashboards and supervisors consume these events; the core never blocks on them

package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types published by the coordinator.
const (
	EventAgentRegistered   = "agent_registered"
	EventAgentStateChanged = "agent_state_changed"
	EventAgentDeregistered = "agent_deregistered"
	EventMessageRouted     = "message_routed"
	EventMessageExpired    = "message_expired"
)

// Event is a single coordinator event pushed to subscribers.
type Event struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	State     string    `json:"state,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// subscriberBuffer is the per-subscriber event queue depth. A subscriber
// that falls further behind than this loses events rather than stalling
// the publisher.
const subscriberBuffer = 64

type subscriber struct {
	events chan Event
	conn   *websocket.Conn
}

// Hub fans coordinator events out to WebSocket subscribers.
// Publish never blocks: slow subscribers drop events.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub ready to accept subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard clients connect from arbitrary origins on the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "realtime"),
	}
}

// Publish delivers an event to every connected subscriber.
// Events to subscribers with full buffers are dropped.
func (h *Hub) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for sub := range h.subs {
		select {
		case sub.events <- evt:
		default:
			// Slow subscriber, drop the event
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a WebSocket and streams events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		events: make(chan Event, subscriberBuffer),
		conn:   conn,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber connected", "remote", conn.RemoteAddr().String(), "subscribers", count)

	go h.readLoop(sub)
	h.writeLoop(sub)
}

// writeLoop pushes queued events to the subscriber until its channel closes.
func (h *Hub) writeLoop(sub *subscriber) {
	for evt := range sub.events {
		if err := sub.conn.WriteJSON(evt); err != nil {
			h.remove(sub)
			return
		}
	}
}

// readLoop drains inbound frames so close/ping handling works, then
// removes the subscriber when the connection drops.
func (h *Hub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.remove(sub)
			return
		}
	}
}

// remove detaches a subscriber and closes its connection. Safe to call twice.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.events)
	sub.conn.Close()
}

// Close disconnects all subscribers. Publish becomes a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.events)
		sub.conn.Close()
	}
}
