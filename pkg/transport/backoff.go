package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// ExponentialBackoff implements an exponential backoff strategy with jitter
type ExponentialBackoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

// NewExponentialBackoff creates a new exponential backoff
func NewExponentialBackoff(initial, max time.Duration, factor, jitter float64) *ExponentialBackoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if factor <= 1 {
		factor = 2.0
	}
	if jitter < 0 || jitter > 1 {
		jitter = 0.1
	}

	return &ExponentialBackoff{
		initial: initial,
		max:     max,
		factor:  factor,
		jitter:  jitter,
		current: initial,
	}
}

// DefaultBackoff returns the reconnect backoff used by Client
func DefaultBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(
		500*time.Millisecond, // initial
		30*time.Second,       // max
		2.0,                  // 2x factor
		0.1,                  // 10% jitter
	)
}

// Next returns the next backoff duration
func (b *ExponentialBackoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	duration := b.current

	if b.jitter > 0 {
		jitterRange := float64(duration) * b.jitter
		jitterValue := (rand.Float64()*2 - 1) * jitterRange // -jitter to +jitter
		duration = time.Duration(float64(duration) + jitterValue)
	}

	b.attempts++
	b.current = time.Duration(float64(b.current) * b.factor)
	if b.current > b.max {
		b.current = b.max
	}

	return duration
}

// Reset resets the backoff to initial state
func (b *ExponentialBackoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of attempts since last reset
func (b *ExponentialBackoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Duration returns the current backoff duration without advancing
func (b *ExponentialBackoff) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// retry runs action until it succeeds or ctx is done, sleeping between
// attempts according to backoff.
func retry(ctx context.Context, backoff *ExponentialBackoff, action func() error) error {
	for {
		err := action()
		if err == nil {
			backoff.Reset()
			return nil
		}

		timer := time.NewTimer(backoff.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
