// ABOUTME: Tests for session token issuing and verification
// ABOUTME: Covers round-trips, expiry, tampering, and cross-issuer rejection

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIssuer_RoundTrip(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret"), time.Hour)

	token, err := issuer.Issue("maya")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	agentID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "maya", agentID)
}

func TestSessionIssuer_Expired(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret"), -time.Minute)

	token, err := issuer.Issue("maya")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestSessionIssuer_Tampered(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret"), time.Hour)

	token, err := issuer.Issue("maya")
	require.NoError(t, err)

	_, err = issuer.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionIssuer_WrongIssuer(t *testing.T) {
	a := NewSessionIssuer([]byte("secret-a"), time.Hour)
	b := NewSessionIssuer([]byte("secret-b"), time.Hour)

	token, err := a.Issue("maya")
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionIssuer_RotatesEveryIssue(t *testing.T) {
	issuer := NewSessionIssuer([]byte("test-secret"), time.Hour)

	// Back-to-back issues land in the same second; the tokens must still
	// differ so a re-registration always invalidates the previous session.
	first, err := issuer.Issue("maya")
	require.NoError(t, err)
	second, err := issuer.Issue("maya")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSessionIssuer_RandomSecret(t *testing.T) {
	// Empty secret should self-generate rather than fail
	issuer := NewSessionIssuer(nil, time.Hour)

	token, err := issuer.Issue("blaze")
	require.NoError(t, err)

	agentID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "blaze", agentID)
}
