package storage

import (
	"context"
	"errors"

	"github.com/dvtran/ytarchive/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job doesn't exist
	ErrJobNotFound = errors.New("job not found")
)

// JobRepository handles job persistence
type JobRepository interface {
	// Save inserts or updates a job
	Save(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by id
	Get(ctx context.Context, id string) (*domain.Job, error)

	// List retrieves jobs, optionally filtered by status ("" = all)
	List(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error)

	// Delete removes a job and its results
	Delete(ctx context.Context, id string) error
}

// PlanRepository handles recovery plan entries
type PlanRepository interface {
	// Add appends a recovery plan entry
	Add(ctx context.Context, entry *domain.RecoveryPlanEntry) error

	// Get retrieves an entry by id
	Get(ctx context.Context, id string) (*domain.RecoveryPlanEntry, error)

	// List retrieves entries, optionally filtered by status ("" = all)
	List(ctx context.Context, status domain.PlanEntryStatus) ([]*domain.RecoveryPlanEntry, error)

	// MarkResubmitted flags an entry as re-queued into a new job
	MarkResubmitted(ctx context.Context, id string) error
}

// ReportRepository handles durable error reports
type ReportRepository interface {
	// Add appends an error report
	Add(ctx context.Context, report *domain.ErrorReport) error

	// List retrieves the most recent reports, newest first
	List(ctx context.Context, limit int) ([]*domain.ErrorReport, error)
}
