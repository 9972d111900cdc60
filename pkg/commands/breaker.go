package commands

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// ErrCircuitOpen is returned while a command's breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig holds the parameters for a circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

// Breaker stops calling an external service after repeated failures and
// probes it again once ResetTimeout has passed.
type Breaker struct {
	mu              sync.Mutex
	state           string
	failures        int
	successes       int
	lastFailureTime time.Time
	config          BreakerConfig
	now             func() time.Time
}

// NewBreaker creates a circuit breaker with the given config. A zero
// FailureThreshold disables the breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 1
	}
	return &Breaker{
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

// Allow returns true if a call should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.config.FailureThreshold <= 0 {
		return true
	}
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) > b.config.ResetTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.config.HalfOpenMaxAttempts {
			b.state = StateClosed
		}
		return
	}
	b.state = StateClosed
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	if b.config.FailureThreshold > 0 && b.failures >= b.config.FailureThreshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
