package recovery

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is one completed invocation of the wrapped operation.
type Attempt struct {
	At      time.Time
	Err     error
	Reason  RetryReason
	Latency time.Duration
	// Delayed is the backoff applied before the next attempt, zero on
	// the final attempt.
	Delayed time.Duration
}

// ErrorContext tracks one logical operation under retry. It is owned by a
// single call to ExecuteWithRetry and must not be shared across calls.
type ErrorContext struct {
	Operation string
	Resource  string
	TraceID   string
	Attempts  []Attempt
}

// NewContext creates an ErrorContext for one operation/resource pair.
func NewContext(operation, resource string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		Resource:  resource,
		TraceID:   uuid.New().String(),
	}
}

// Record appends a failed attempt to the history.
func (c *ErrorContext) Record(err error, reason RetryReason, latency time.Duration) {
	c.Attempts = append(c.Attempts, Attempt{
		At:      time.Now(),
		Err:     err,
		Reason:  reason,
		Latency: latency,
	})
}

// AttemptCount returns the number of attempts consumed so far.
func (c *ErrorContext) AttemptCount() int {
	return len(c.Attempts)
}

// LastReason returns the reason of the most recent attempt, or
// ReasonUnknown if none were recorded.
func (c *ErrorContext) LastReason() RetryReason {
	if len(c.Attempts) == 0 {
		return ReasonUnknown
	}
	return c.Attempts[len(c.Attempts)-1].Reason
}

// key identifies the (operation, resource) pair for in-flight exclusivity.
func (c *ErrorContext) key() string {
	return c.Operation + "|" + c.Resource
}
