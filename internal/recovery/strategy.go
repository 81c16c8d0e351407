package recovery

import (
	"math"
	"math/rand"
	"time"
)

// Decision is the outcome of consulting a strategy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryStrategy decides whether and when to re-attempt a failed operation.
// Implementations must not panic and must return Retry=false once
// MaxAttempts is reached regardless of variant.
type RetryStrategy interface {
	Name() string
	NextDecision(ectx *ErrorContext) Decision
}

// OutcomeObserver is implemented by strategies that keep per-resource
// state (circuit breaker, adaptive). The manager feeds every attempt
// outcome through it.
type OutcomeObserver interface {
	ObserveOutcome(resource string, success bool, latency time.Duration)
}

// Gate is implemented by strategies that can refuse an attempt before the
// operation is invoked at all (circuit breaker fail-fast).
type Gate interface {
	Allow(resource string) error
}

// RetryConfig holds tunables shared by the strategy implementations.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64

	// Circuit breaker
	FailureThreshold int
	ResetTimeout     time.Duration

	// Adaptive
	WindowSize   int
	MinSamples   int
	SuccessFloor float64
}

// DefaultRetryConfig provides sensible defaults for downstream service
// calls: 1s, 2s, 4s, 8s (max 60s), ±20% jitter.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:      5,
	BaseDelay:        1 * time.Second,
	MaxDelay:         60 * time.Second,
	BackoffFactor:    2.0,
	JitterFraction:   0.2,
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
	WindowSize:       50,
	MinSamples:       5,
	SuccessFloor:     0.1,
}

// jitter applies a symmetric ±fraction perturbation to d to desynchronize
// concurrent retries.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * fraction
	out := float64(d) + (rand.Float64()*2-1)*spread
	if out < 0 {
		return 0
	}
	return time.Duration(out)
}

// FixedDelay retries with a constant (jittered) delay.
type FixedDelay struct {
	Config RetryConfig
}

// NewFixedDelay creates a fixed-delay strategy.
func NewFixedDelay(cfg RetryConfig) *FixedDelay {
	return &FixedDelay{Config: cfg}
}

func (s *FixedDelay) Name() string { return "fixed_delay" }

func (s *FixedDelay) NextDecision(ectx *ErrorContext) Decision {
	if ectx.AttemptCount() >= s.Config.MaxAttempts {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: jitter(s.Config.BaseDelay, s.Config.JitterFraction)}
}

// ExponentialBackoff doubles (by BackoffFactor) the delay each attempt,
// capped at MaxDelay, with symmetric jitter.
type ExponentialBackoff struct {
	Config RetryConfig
}

// NewExponentialBackoff creates an exponential backoff strategy.
func NewExponentialBackoff(cfg RetryConfig) *ExponentialBackoff {
	return &ExponentialBackoff{Config: cfg}
}

func (s *ExponentialBackoff) Name() string { return "exponential_backoff" }

func (s *ExponentialBackoff) NextDecision(ectx *ErrorContext) Decision {
	attempts := ectx.AttemptCount()
	if attempts >= s.Config.MaxAttempts {
		return Decision{Retry: false}
	}
	delay := float64(s.Config.BaseDelay) * math.Pow(s.Config.BackoffFactor, float64(attempts-1))
	if delay > float64(s.Config.MaxDelay) {
		delay = float64(s.Config.MaxDelay)
	}
	return Decision{Retry: true, Delay: jitter(time.Duration(delay), s.Config.JitterFraction)}
}
