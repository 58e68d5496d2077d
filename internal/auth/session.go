// ABOUTME: Session token issuing and verification for agent registrations
// ABOUTME: Uses HS256 signed JWTs with the agent ID in the sub claim

package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session token errors
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// SessionIssuer mints and verifies per-registration session tokens.
// A token proves that a re-registering process is the same one that
// holds the active registration for an agent identity.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionIssuer creates a SessionIssuer with the given secret and token TTL.
// An empty secret generates a random one, which is fine for a single-process
// coordinator: tokens only need to outlive the coordinator they were issued by.
func NewSessionIssuer(secret []byte, ttl time.Duration) *SessionIssuer {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("generating session secret: %v", err))
		}
	}
	return &SessionIssuer{secret: secret, ttl: ttl}
}

// Issue creates a new session token for the given agent ID. Every token
// carries a fresh jti, so re-registering within the same second still
// rotates the token.
func (s *SessionIssuer) Issue(agentID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": agentID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and extracts the agent ID from the "sub" claim.
func (s *SessionIssuer) Verify(tokenString string) (agentID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
