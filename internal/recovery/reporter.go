package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage"
	"github.com/dvtran/ytarchive/internal/metrics"
)

// Reporter records exhausted or critical failures durably for the
// recovery-plan feature. Implementations must never fail the caller: the
// caller is already on a failure path, so reporting errors are logged and
// swallowed.
type Reporter interface {
	Report(ctx context.Context, ectx *ErrorContext, err error, suggestions []string) string
}

// StoreReporter persists error reports through a ReportRepository.
type StoreReporter struct {
	repo storage.ReportRepository
	log  *slog.Logger
}

// NewStoreReporter creates a reporter backed by the given repository.
func NewStoreReporter(repo storage.ReportRepository, log *slog.Logger) *StoreReporter {
	if log == nil {
		log = slog.Default()
	}
	return &StoreReporter{repo: repo, log: log}
}

// Report writes a structured record of the failed operation, including
// the full attempt history, and returns the report id.
func (r *StoreReporter) Report(ctx context.Context, ectx *ErrorContext, err error, suggestions []string) string {
	report := &domain.ErrorReport{
		ID:          uuid.New().String(),
		Operation:   ectx.Operation,
		Resource:    ectx.Resource,
		Reason:      string(ectx.LastReason()),
		Error:       err.Error(),
		Attempts:    make([]domain.AttemptRecord, 0, len(ectx.Attempts)),
		Suggestions: suggestions,
		CreatedAt:   time.Now(),
	}
	for _, a := range ectx.Attempts {
		report.Attempts = append(report.Attempts, domain.AttemptRecord{
			At:      a.At,
			Error:   a.Err.Error(),
			Reason:  string(a.Reason),
			Delayed: a.Delayed,
		})
	}

	if addErr := r.repo.Add(ctx, report); addErr != nil {
		// Never mask the original failure with a reporting failure.
		r.log.Error("Failed to persist error report",
			"operation", ectx.Operation,
			"resource", ectx.Resource,
			"error", addErr)
		return ""
	}

	metrics.ErrorReportsTotal.WithLabelValues(report.Reason).Inc()
	return report.ID
}
