// ABOUTME: Tests for the WebSocket event hub
// ABOUTME: Covers subscribe/publish round-trips, disconnects, and close behavior

package realtime

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Wait for the server side to register the subscriber
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, hub.SubscriberCount())

	return conn
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Close()

	conn := dialHub(t, hub)

	hub.Publish(Event{
		Type:    EventAgentStateChanged,
		AgentID: "maya",
		State:   "degraded",
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, EventAgentStateChanged, got.Type)
	assert.Equal(t, "maya", got.AgentID)
	assert.Equal(t, "degraded", got.State)
	assert.False(t, got.Time.IsZero())
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Close()

	// Must not block or panic
	hub.Publish(Event{Type: EventMessageRouted, MessageID: "m-1"})
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestHub_SubscriberDisconnect(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Close()

	conn := dialHub(t, hub)
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() != 0 && time.Now().Before(deadline) {
		hub.Publish(Event{Type: EventMessageRouted})
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(testLogger())

	dialHub(t, hub)
	hub.Close()

	assert.Equal(t, 0, hub.SubscriberCount())

	// Publish and a second Close must be safe after shutdown
	hub.Publish(Event{Type: EventMessageRouted})
	hub.Close()
}
