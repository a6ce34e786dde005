package source

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig contains configuration for the circuit breaker
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int `json:"max_failures"`
	// Cooldown is how long the circuit stays open before one trial call is let through.
	Cooldown time.Duration `json:"cooldown"`
	// SuccessThreshold trial calls must succeed to close it again.
	SuccessThreshold int `json:"success_threshold"`
}

// BreakerStats contains statistics about the circuit breaker
type BreakerStats struct {
	State               string    `json:"state"`
	Failures            int       `json:"failures"`
	Successes           int       `json:"successes"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	LastStateChange     time.Time `json:"last_state_change"`
}

// CircuitBreaker stops calling a remote that keeps failing so queries go
// straight to the fallback until the cooldown passes.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               State
	failures            int
	successes           int
	halfOpenSuccesses   int
	consecutiveFailures int
	lastFailureTime     time.Time
	lastStateChange     time.Time
	// trialInFlight is set while a half-open trial call is outstanding.
	trialInFlight       bool
	config              BreakerConfig
	now                 func() time.Time

	onStateChange func(from, to State)
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		state:           StateClosed,
		config:          config,
		now:             time.Now,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. An open circuit whose cooldown
// has passed moves to half-open and admits exactly one trial call; everyone
// else is refused until that call records an outcome or is released.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.config.Cooldown {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		cb.trialInFlight = true
		return true
	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return true
	}
}

// Release gives up an admitted call without recording an outcome, as when
// the caller went away before the remote answered.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	if cb.state == StateHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()
	cb.trialInFlight = false

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Any failed trial call reopens the circuit
		cb.transitionTo(StateOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns statistics about the circuit breaker
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:               cb.state.String(),
		Failures:            cb.failures,
		Successes:           cb.successes,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
		LastStateChange:     cb.lastStateChange,
	}
}

// Reset closes the circuit and clears the counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.successes, cb.consecutiveFailures, cb.halfOpenSuccesses = 0, 0, 0, 0
	cb.lastFailureTime = time.Time{}
	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	}
}

// SetOnStateChange sets a callback for state changes. It runs with the
// breaker locked and must not call back into it.
func (cb *CircuitBreaker) SetOnStateChange(callback func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = callback
}

func (cb *CircuitBreaker) transitionTo(to State) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()
	if to != StateHalfOpen {
		cb.halfOpenSuccesses = 0
		cb.trialInFlight = false
	}
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(from, to)
	}
}
