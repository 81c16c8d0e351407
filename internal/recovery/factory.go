package recovery

import "fmt"

// NewStrategy constructs a strategy by name. Used to select a strategy
// per collaborator from configuration.
func NewStrategy(name string, cfg RetryConfig) (RetryStrategy, error) {
	switch name {
	case "fixed", "fixed_delay":
		return NewFixedDelay(cfg), nil
	case "exponential", "exponential_backoff", "":
		return NewExponentialBackoff(cfg), nil
	case "circuit", "circuit_breaker":
		return NewCircuitBreaker(cfg), nil
	case "adaptive":
		return NewAdaptive(cfg), nil
	default:
		return nil, fmt.Errorf("unknown retry strategy: %q", name)
	}
}
