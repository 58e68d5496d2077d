// ABOUTME: Store interface and data types for message persistence
// ABOUTME: Defines Message, delivery tracking, and retention operations

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps database failures at the call sites that hit
	// them, so the API layer can report the store as down rather than
	// asking the caller to retry into a dead database
	ErrUnavailable = errors.New("message store unavailable")
)

// Message status values
const (
	// StatusActive means the message is retained and awaiting delivery
	StatusActive = "active"
	// StatusUndelivered means the retention window expired with at least
	// one recipient never having polled the message
	StatusUndelivered = "undelivered"
)

// Message represents a routed message. Seq is the store-assigned monotonic
// sequence used as the poll cursor; ID is the external identifier.
type Message struct {
	Seq       int64
	ID        string
	Sender    string
	Target    string
	Payload   string
	CreatedAt time.Time
	Status    string
}

// Store defines the interface for message persistence and per-consumer
// delivery tracking. Delivery is keyed by (message, consumer): a pair
// marked delivered is never returned again.
type Store interface {
	// SaveMessage persists a message and its recipient set atomically.
	// Returns the assigned sequence number.
	SaveMessage(ctx context.Context, msg *Message, recipients []string) (int64, error)

	// PollMessages returns undelivered active messages addressed to the
	// consumer with sequence greater than since, in ascending sequence
	// order, marking them delivered in the same transaction.
	PollMessages(ctx context.Context, consumerID string, since int64, limit int) ([]*Message, error)

	// ExpireBefore ends retention for messages created before the cutoff.
	// Messages with undelivered recipients are marked undelivered and
	// returned; fully delivered ones are pruned.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]*Message, error)

	// RecentMessages returns the most recent messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]*Message, error)

	// CountMessages returns the total number of messages ever routed and
	// the number currently marked undelivered.
	CountMessages(ctx context.Context) (total, undelivered int64, err error)

	// Close releases any resources held by the store
	Close() error
}
