// Package circuit implements a small failure-counting circuit breaker
// used to stop hammering an upstream (an LLM provider, a quote feed)
// that is clearly down. Closed is normal operation; Open rejects calls
// until a cooldown passes; HalfOpen admits a single probe.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config bounds the breaker.
type Config struct {
	// FailureThreshold is how many consecutive failures trip the
	// breaker; zero means 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before admitting a
	// probe; zero means 30s.
	Cooldown time.Duration
}

func (c *Config) fill() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// Breaker tracks consecutive failures against one upstream.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probing     bool
	lastFailure string
}

// NewBreaker builds a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	cfg.fill()
	return &Breaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// Allow reports whether a call may proceed. While open it returns an
// error carrying the remaining cooldown; after the cooldown one probe
// call is admitted half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.Cooldown {
			return fmt.Errorf("circuit open for another %s (last failure: %s)",
				(b.cfg.Cooldown - elapsed).Round(time.Second), b.lastFailure)
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return fmt.Errorf("circuit half-open, probe in flight")
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.lastFailure = ""
}

// RecordFailure counts one failure; at the threshold (or on a failed
// half-open probe) the breaker trips open.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if err != nil {
		b.lastFailure = err.Error()
	}
	b.probing = false

	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetClock overrides the wall clock, for tests.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }
