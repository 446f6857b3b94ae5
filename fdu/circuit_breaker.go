package fdu

import (
	"errors"
	"sync"
	"time"

	"github.com/fduhole/fdusdk/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit open, requests blocked
	StateHalfOpen              // Testing if the portal recovered
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker shields the portals from request storms once they start
// failing. Campus systems tend to fall over during registration windows;
// hammering them makes it worse.
type CircuitBreaker struct {
	mu               sync.RWMutex
	component        string
	state            State
	failures         int
	failureThreshold int
	resetTimeout     time.Duration
	lastFailure      time.Time
}

// NewCircuitBreaker creates a new circuit breaker for the named component.
func NewCircuitBreaker(component string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		component:        component,
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
	}
	metrics.SetCircuitBreakerState(component, stateLabel(cb.state))
	return cb
}

// Execute runs the given function if the circuit is closed or half-open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.mu.Unlock()
			return true
		}
		cb.mu.Unlock()
		return false
	default:
		// Half-open: allow probes through until one settles the state.
		cb.mu.Unlock()
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		if cb.state != StateOpen {
			metrics.RecordCircuitBreakerTrip(cb.component)
		}
		cb.transitionLocked(StateOpen)
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.transitionLocked(StateClosed)
	cb.mu.Unlock()
}

// transitionLocked updates the state and mirrors it into metrics.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	metrics.SetCircuitBreakerState(cb.component, stateLabel(next))
}

// State returns the current state (thread-safe).
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func stateLabel(state State) string {
	switch state {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
