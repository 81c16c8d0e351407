package recovery

import (
	"errors"
	"sync"
	"time"

	"github.com/dvtran/ytarchive/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker refuses an attempt.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of one resource's breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// breakerState is the shared failure budget for one resource key.
// Long-lived across many recovery operations, mutated under the
// strategy's lock.
type breakerState struct {
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// CircuitBreaker fails fast once a resource accumulates too many
// consecutive failures, and probes it with a single trial attempt after
// the reset timeout.
//
// Valid transitions: CLOSED→OPEN on threshold breach, OPEN→HALF_OPEN
// after ResetTimeout, HALF_OPEN→CLOSED on trial success, HALF_OPEN→OPEN
// on trial failure.
type CircuitBreaker struct {
	Config RetryConfig

	mu        sync.Mutex
	resources map[string]*breakerState
	now       func() time.Time
}

// NewCircuitBreaker creates a circuit breaker strategy with per-resource
// state.
func NewCircuitBreaker(cfg RetryConfig) *CircuitBreaker {
	return &CircuitBreaker{
		Config:    cfg,
		resources: make(map[string]*breakerState),
		now:       time.Now,
	}
}

func (s *CircuitBreaker) Name() string { return "circuit_breaker" }

func (s *CircuitBreaker) get(resource string) *breakerState {
	st, ok := s.resources[resource]
	if !ok {
		st = &breakerState{state: CircuitClosed}
		s.resources[resource] = st
	}
	return st
}

// Allow refuses the attempt outright while the breaker is OPEN inside the
// reset timeout. After the timeout it admits exactly one HALF_OPEN trial.
func (s *CircuitBreaker) Allow(resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(resource)
	switch st.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if s.now().Sub(st.openedAt) < s.Config.ResetTimeout {
			return ErrCircuitOpen
		}
		st.state = CircuitHalfOpen
		st.trialInFlight = true
		s.publish(resource, st)
		return nil
	case CircuitHalfOpen:
		if st.trialInFlight {
			return ErrCircuitOpen
		}
		st.trialInFlight = true
		return nil
	}
	return nil
}

// ObserveOutcome feeds an attempt result into the resource's breaker.
func (s *CircuitBreaker) ObserveOutcome(resource string, success bool, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(resource)
	switch {
	case success && st.state == CircuitHalfOpen:
		st.state = CircuitClosed
		st.consecutiveFailures = 0
		st.trialInFlight = false
	case success:
		st.consecutiveFailures = 0
	case st.state == CircuitHalfOpen:
		st.state = CircuitOpen
		st.openedAt = s.now()
		st.trialInFlight = false
	default:
		st.consecutiveFailures++
		if st.state == CircuitClosed && st.consecutiveFailures >= s.Config.FailureThreshold {
			st.state = CircuitOpen
			st.openedAt = s.now()
		}
	}
	s.publish(resource, st)
}

// NextDecision retries with the base delay while the breaker admits
// attempts; an OPEN breaker terminates the sequence immediately with zero
// delay.
func (s *CircuitBreaker) NextDecision(ectx *ErrorContext) Decision {
	if ectx.AttemptCount() >= s.Config.MaxAttempts {
		return Decision{Retry: false}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(ectx.Resource)
	if st.state == CircuitOpen && s.now().Sub(st.openedAt) < s.Config.ResetTimeout {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: jitter(s.Config.BaseDelay, s.Config.JitterFraction)}
}

// State returns the current state for a resource, for observability.
func (s *CircuitBreaker) State(resource string) CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(resource).state
}

func (s *CircuitBreaker) publish(resource string, st *breakerState) {
	metrics.CircuitState.WithLabelValues(resource).Set(float64(st.state))
}
