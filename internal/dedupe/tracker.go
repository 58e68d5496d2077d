// ABOUTME: Thread-safe TTL tracker for message identifiers an agent has processed
// ABOUTME: Bounds re-delivery when an agent re-polls from a stale checkpoint

package dedupe

import (
	"sync"
	"time"
)

// Tracker remembers which message identifiers a consumer has already
// processed, for a bounded window. An agent restarting from an old
// checkpoint re-polls messages it may have seen; the tracker suppresses
// re-processing without requiring the consumer to persist every ID.
type Tracker struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewTracker creates a tracker with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func NewTracker(ttl time.Duration, maxSize int) *Tracker {
	t := &Tracker{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Delivered atomically checks whether the message ID was already processed
// and records it if not. Returns true for a duplicate.
func (t *Tracker) Delivered(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if stamp, ok := t.seen[messageID]; ok && now.Sub(stamp) < t.ttl {
		return true
	}

	if len(t.seen) >= t.maxSize {
		t.evictOldest(now)
	}
	t.seen[messageID] = now
	return false
}

// Len returns the number of tracked identifiers, including expired ones
// not yet cleaned up.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// evictOldest drops expired entries, falling back to the single oldest
// entry when nothing has expired. Must be called with mu held. The
// tracker is small enough that a scan beats maintaining an order list.
func (t *Tracker) evictOldest(now time.Time) {
	var oldestKey string
	var oldestStamp time.Time
	evicted := false

	for key, stamp := range t.seen {
		if now.Sub(stamp) >= t.ttl {
			delete(t.seen, key)
			evicted = true
			continue
		}
		if oldestKey == "" || stamp.Before(oldestStamp) {
			oldestKey, oldestStamp = key, stamp
		}
	}

	if !evicted && oldestKey != "" {
		delete(t.seen, oldestKey)
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (t *Tracker) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.runCleanup()
		case <-t.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (t *Tracker) runCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, stamp := range t.seen {
		if now.Sub(stamp) >= t.ttl {
			delete(t.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
