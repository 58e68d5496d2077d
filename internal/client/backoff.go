// ABOUTME: Exponential backoff with a hard cap for agent-side retries
// ABOUTME: Delay doubles per consecutive failure and resets on success

package client

import "time"

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
)

// Backoff computes retry delays that double on each consecutive failure
// up to a fixed cap. It is not safe for concurrent use; each retry loop
// owns its own instance.
type Backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

// NewBackoff returns a backoff starting at base and never exceeding cap.
// Zero values get real defaults, so an unconfigured cap still leaves
// room for the delay to grow.
func NewBackoff(base, cap time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	if cap < base {
		cap = base
	}
	return &Backoff{base: base, cap: cap}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := b.base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.cap {
			d = b.cap
			break
		}
	}
	b.attempt++
	return d
}

// Reset clears the failure streak after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}
