package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvtran/ytarchive/internal/metrics"
)

// ErrOperationInFlight is returned when a recovery operation for the same
// (operation, resource) pair is already active in this manager.
var ErrOperationInFlight = errors.New("recovery operation already in flight")

// OperationStatus is the externally observable status of a recovery
// operation.
type OperationStatus string

const (
	OpStatusActive       OperationStatus = "active"
	OpStatusSucceeded    OperationStatus = "succeeded"
	OpStatusExhausted    OperationStatus = "failed_retryable_exhausted"
	OpStatusNonRetryable OperationStatus = "failed_nonretryable"
)

// RecoveryOperation is one active retry sequence, registered in the
// manager's active set for observability.
type RecoveryOperation struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Resource  string          `json:"resource"`
	Strategy  string          `json:"strategy"`
	Status    OperationStatus `json:"status"`
	Attempts  int             `json:"attempts"`
	StartedAt time.Time       `json:"started_at"`
}

// Operation is one downstream call under retry. Implementations must
// honor ctx cancellation.
type Operation func(ctx context.Context) error

// TerminalError is the typed result of a failed retry sequence. It lets
// the caller distinguish "tried and gave up" (exhausted) from "known
// permanently unavailable" (non-retryable).
type TerminalError struct {
	Status      OperationStatus
	Reason      RetryReason
	Attempts    int
	ReportID    string
	Suggestions []string
	Err         error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Exhausted reports whether the sequence consumed its retry budget, as
// opposed to hitting a permanent failure.
func (e *TerminalError) Exhausted() bool { return e.Status == OpStatusExhausted }

// Manager is the single entry point for executing downstream calls under
// retry. It tracks one RecoveryOperation per in-flight call and enforces
// that attempts for the same (operation, resource) pair never interleave.
type Manager struct {
	reporter Reporter
	log      *slog.Logger

	mu       sync.Mutex
	active   map[string]*RecoveryOperation
	inFlight map[string]string // ErrorContext key -> operation id
}

// NewManager creates a recovery manager.
func NewManager(reporter Reporter, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		reporter: reporter,
		log:      log,
		active:   make(map[string]*RecoveryOperation),
		inFlight: make(map[string]string),
	}
}

// ExecuteWithRetry invokes op until it succeeds, the classifier flags the
// failure non-retryable, or the strategy declines another attempt. All
// retryable failures are contained here; the caller sees nil, a
// *TerminalError, or a context error on cancellation.
func (m *Manager) ExecuteWithRetry(
	ctx context.Context,
	op Operation,
	ectx *ErrorContext,
	strategy RetryStrategy,
	handler ServiceErrorHandler,
) error {
	rec, err := m.register(ectx, strategy)
	if err != nil {
		return err
	}

	gate, _ := strategy.(Gate)
	observer, _ := strategy.(OutcomeObserver)

	for {
		if gate != nil {
			if gateErr := gate.Allow(ectx.Resource); gateErr != nil {
				// Fail fast: the breaker is open, the operation is not
				// invoked at all and no delay is applied.
				m.finish(rec, OpStatusNonRetryable)
				return &TerminalError{
					Status:   OpStatusNonRetryable,
					Reason:   ectx.LastReason(),
					Attempts: ectx.AttemptCount(),
					Err:      gateErr,
				}
			}
		}

		start := time.Now()
		opErr := op(ctx)
		latency := time.Since(start)

		metrics.AttemptLatency.WithLabelValues(ectx.Operation).Observe(latency.Seconds())
		if observer != nil {
			observer.ObserveOutcome(ectx.Resource, opErr == nil, latency)
		}

		if opErr == nil {
			m.finish(rec, OpStatusSucceeded)
			return nil
		}

		if ctx.Err() != nil {
			m.finish(rec, OpStatusNonRetryable)
			return ctx.Err()
		}

		if handler != nil && handler.HandleError(opErr, ectx) {
			// The service fully owns recovery for this error class; the
			// generic loop is bypassed and the error treated as resolved.
			m.log.Debug("Error handled by service",
				"operation", ectx.Operation,
				"resource", ectx.Resource,
				"error", opErr)
			m.finish(rec, OpStatusSucceeded)
			return nil
		}

		reason := m.classify(opErr, handler)
		ectx.Record(opErr, reason, latency)
		m.touch(rec, ectx.AttemptCount())
		metrics.RetryAttemptsTotal.WithLabelValues(ectx.Operation, string(reason)).Inc()

		if !reason.Retryable() {
			return m.terminal(ctx, rec, ectx, handler, OpStatusNonRetryable, reason, opErr)
		}

		decision := strategy.NextDecision(ectx)
		if !decision.Retry {
			return m.terminal(ctx, rec, ectx, handler, OpStatusExhausted, reason, opErr)
		}

		delay := decision.Delay
		if hint, ok := RetryAfterHint(opErr); ok && hint > delay {
			// Honor server-provided retry-after hints for throttling and
			// quota failures.
			delay = hint
		}
		ectx.Attempts[len(ectx.Attempts)-1].Delayed = delay

		m.log.Debug("Retrying operation",
			"operation", ectx.Operation,
			"resource", ectx.Resource,
			"attempt", ectx.AttemptCount(),
			"reason", reason,
			"delay", delay)

		select {
		case <-ctx.Done():
			m.finish(rec, OpStatusNonRetryable)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// ActiveRecoveries returns a read-only snapshot of in-flight recovery
// operations.
func (m *Manager) ActiveRecoveries() []RecoveryOperation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecoveryOperation, 0, len(m.active))
	for _, rec := range m.active {
		out = append(out, *rec)
	}
	return out
}

func (m *Manager) classify(err error, handler ServiceErrorHandler) RetryReason {
	if handler != nil {
		return handler.Classify(err)
	}
	return DefaultClassify(err)
}

func (m *Manager) register(ectx *ErrorContext, strategy RetryStrategy) (*RecoveryOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ectx.key()
	if _, exists := m.inFlight[key]; exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrOperationInFlight, ectx.Operation, ectx.Resource)
	}

	rec := &RecoveryOperation{
		ID:        uuid.New().String(),
		Operation: ectx.Operation,
		Resource:  ectx.Resource,
		Strategy:  strategy.Name(),
		Status:    OpStatusActive,
		StartedAt: time.Now(),
	}
	m.active[rec.ID] = rec
	m.inFlight[key] = rec.ID
	metrics.RecoveriesActive.Inc()
	return rec, nil
}

func (m *Manager) touch(rec *RecoveryOperation, attempts int) {
	m.mu.Lock()
	rec.Attempts = attempts
	m.mu.Unlock()
}

func (m *Manager) finish(rec *RecoveryOperation, status OperationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Status = status
	delete(m.active, rec.ID)
	delete(m.inFlight, rec.Operation+"|"+rec.Resource)
	metrics.RecoveriesActive.Dec()
}

func (m *Manager) terminal(
	ctx context.Context,
	rec *RecoveryOperation,
	ectx *ErrorContext,
	handler ServiceErrorHandler,
	status OperationStatus,
	reason RetryReason,
	err error,
) error {
	m.finish(rec, status)

	var suggestions []string
	if handler != nil {
		suggestions = handler.RecoverySuggestions(ectx)
	}

	var reportID string
	if m.reporter != nil {
		reportID = m.reporter.Report(ctx, ectx, err, suggestions)
	}

	m.log.Warn("Operation failed terminally",
		"operation", ectx.Operation,
		"resource", ectx.Resource,
		"status", status,
		"reason", reason,
		"attempts", ectx.AttemptCount())

	return &TerminalError{
		Status:      status,
		Reason:      reason,
		Attempts:    ectx.AttemptCount(),
		ReportID:    reportID,
		Suggestions: suggestions,
		Err:         err,
	}
}
