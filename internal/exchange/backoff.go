package exchange

import "time"

// Backoff computes the exponential reconnection delay: starting at 5s,
// doubling, capped at 30s, at most maxAttempts attempts.
type Backoff struct {
	initial     time.Duration
	max         time.Duration
	maxAttempts int
	attempt     int
}

// NewBackoff returns a Backoff with the default reconnection schedule (5s,
// doubling, 30s cap, 10 attempts).
func NewBackoff() *Backoff {
	return &Backoff{
		initial:     5 * time.Second,
		max:         30 * time.Second,
		maxAttempts: 10,
	}
}

// Next returns the delay for the next reconnection attempt and whether the
// attempt budget has been exhausted (ok=false means give up).
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	delay = b.initial
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	b.attempt++
	return delay, true
}

// Reset clears the attempt counter, used after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts reports how many attempts have been consumed so far.
func (b *Backoff) Attempts() int {
	return b.attempt
}
