// ABOUTME: Tests for the completion gateway client
// ABOUTME: Covers mention stripping, fallback mode, auth fail-fast, and transient retry

package completion

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestClient(baseURL, apiKey string) *Client {
	c := New(baseURL, "test-model", apiKey, 2*time.Second, testLogger())
	c.retryDelay = 5 * time.Millisecond
	return c
}

func TestStripMentions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@maya hello", "hello"},
		{"@maya: hello", "hello"},
		{"@maya, hello there", "hello there"},
		{"@maya @blaze status report", "status report"},
		{"hello @maya", "hello @maya"},
		{"no mentions here", "no mentions here"},
		{"  @maya   trimmed  ", "trimmed"},
		{"@maya", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StripMentions(tt.in), "input %q", tt.in)
	}
}

func TestMentions(t *testing.T) {
	assert.Equal(t, []string{"maya"}, Mentions("@maya hello"))
	assert.Equal(t, []string{"maya", "blaze"}, Mentions("@maya @blaze: hello"))
	assert.Nil(t, Mentions("hello @maya"))
}

func TestComplete_Success(t *testing.T) {
	var gotBody completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(completionResponse{
			Model:   "test-model-v2",
			Content: []contentBlock{{Type: "text", Text: "hi maya"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "secret-key")
	res, err := c.Complete(context.Background(), "@maya hello", nil)
	require.NoError(t, err)

	assert.Equal(t, "hi maya", res.Text)
	assert.Equal(t, "test-model-v2", res.Model)
	assert.False(t, res.Degraded)

	// The service must only see natural-language content
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "hello", gotBody.Messages[0].Content)
}

func TestComplete_NoCredentialFallsBack(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	res, err := c.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, "fallback", res.Model)
	assert.NotEmpty(t, res.Text)
	assert.Equal(t, int32(0), requests.Load(), "no request should be made without a credential")
}

func TestComplete_AuthErrorFailsFast(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "bad-key")
	res, err := c.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, int32(1), requests.Load(), "auth errors must not be retried")
}

func TestComplete_TransientRetriedOnce(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(completionResponse{
			Content: []contentBlock{{Type: "text", Text: "second try"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "key")
	res, err := c.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.Equal(t, "second try", res.Text)
	assert.Equal(t, int32(2), requests.Load())
}

func TestComplete_PersistentTransientDegrades(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "key")
	res, err := c.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, int32(2), requests.Load(), "exactly one retry")
}

func TestComplete_ConnectionRefusedDegrades(t *testing.T) {
	// Nothing listening on this address
	c := newTestClient("http://127.0.0.1:1", "key")
	res, err := c.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
}

func TestComplete_EmptyPrompt(t *testing.T) {
	c := newTestClient("http://example.invalid", "key")

	_, err := c.Complete(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	// A prompt that is nothing but a mention is empty after stripping
	_, err = c.Complete(context.Background(), "@maya", nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestComplete_HistoryForwarded(t *testing.T) {
	var gotBody completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(completionResponse{
			Content: []contentBlock{{Text: "ok"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "key")
	_, err := c.Complete(context.Background(), "now", []string{"earlier turn"})
	require.NoError(t, err)

	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "earlier turn", gotBody.Messages[0].Content)
	assert.Equal(t, "now", gotBody.Messages[1].Content)
}
