package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed allows requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails fast without calling the backend.
	BreakerOpen
	// BreakerHalfOpen lets a probe request test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast when a backend keeps erroring, protecting the
// indexing pipeline from hammering a dead embedding or vector service.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the consecutive failures before the circuit opens.
func WithMaxFailures(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before probing.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker creates a breaker. Defaults: 5 failures, 30s reset.
func NewCircuitBreaker(name string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        BreakerClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, accounting for reset timeouts.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		cb.state = BreakerHalfOpen
	}
	return cb.state
}

// Execute runs fn if the circuit allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()
	if state == BreakerOpen {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures || cb.state == BreakerHalfOpen {
			cb.state = BreakerOpen
		}
		return err
	}

	cb.failures = 0
	cb.state = BreakerClosed
	return nil
}
