package transport

import "time"

const (
	backoffBase = 1000 * time.Millisecond
	backoffMax  = 30000 * time.Millisecond
)

// Backoff produces an exponential reconnection delay sequence starting at
// Base (1s when zero): 1s, 2s, 4s, 8s, 16s, 30s, 30s, ... capped at 30s and
// reset after a successful connect.
type Backoff struct {
	Base     time.Duration
	attempts int
}

// Next returns the delay before the upcoming attempt and advances the
// counter.
func (b *Backoff) Next() time.Duration {
	base := b.Base
	if base <= 0 {
		base = backoffBase
	}
	d := backoffMax
	if b.attempts < 30 {
		if scaled := base << b.attempts; scaled > 0 && scaled < backoffMax {
			d = scaled
		}
	}
	b.attempts++
	return d
}

// Attempts reports how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset restores the initial delay after a successful connect.
func (b *Backoff) Reset() {
	b.attempts = 0
}
