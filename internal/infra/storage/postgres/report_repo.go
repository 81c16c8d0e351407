package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvtran/ytarchive/internal/core/domain"
)

// ReportRepo implements storage.ReportRepository using PostgreSQL. The
// attempt history and suggestions are stored as JSONB.
type ReportRepo struct {
	db *DB
}

// NewReportRepo creates a new PostgreSQL error report repository.
func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

type reportRow struct {
	ID          string    `db:"id"`
	Operation   string    `db:"operation"`
	Resource    string    `db:"resource"`
	Reason      string    `db:"reason"`
	ErrorMsg    string    `db:"error_msg"`
	Attempts    []byte    `db:"attempts"`
	Suggestions []byte    `db:"suggestions"`
	CreatedAt   time.Time `db:"created_at"`
}

// Add appends an error report.
func (r *ReportRepo) Add(ctx context.Context, report *domain.ErrorReport) error {
	attempts, err := json.Marshal(report.Attempts)
	if err != nil {
		return fmt.Errorf("failed to encode attempts: %w", err)
	}
	suggestions, err := json.Marshal(report.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}

	query := `
		INSERT INTO error_reports (id, operation, resource, reason, error_msg, attempts, suggestions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.Operation,
		report.Resource,
		report.Reason,
		report.Error,
		attempts,
		suggestions,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add error report: %w", err)
	}
	return nil
}

// List retrieves the most recent reports, newest first.
func (r *ReportRepo) List(ctx context.Context, limit int) ([]*domain.ErrorReport, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, operation, resource, reason, error_msg, attempts, suggestions, created_at
		FROM error_reports
		ORDER BY created_at DESC
		LIMIT $1
	`
	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list error reports: %w", err)
	}

	out := make([]*domain.ErrorReport, 0, len(rows))
	for i := range rows {
		report := &domain.ErrorReport{
			ID:        rows[i].ID,
			Operation: rows[i].Operation,
			Resource:  rows[i].Resource,
			Reason:    rows[i].Reason,
			Error:     rows[i].ErrorMsg,
			CreatedAt: rows[i].CreatedAt,
		}
		if len(rows[i].Attempts) > 0 {
			if err := json.Unmarshal(rows[i].Attempts, &report.Attempts); err != nil {
				return nil, fmt.Errorf("failed to decode attempts: %w", err)
			}
		}
		if len(rows[i].Suggestions) > 0 {
			if err := json.Unmarshal(rows[i].Suggestions, &report.Suggestions); err != nil {
				return nil, fmt.Errorf("failed to decode suggestions: %w", err)
			}
		}
		out = append(out, report)
	}
	return out, nil
}
