package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage"
)

// PlanRepo implements storage.PlanRepository using PostgreSQL.
type PlanRepo struct {
	db *DB
}

// NewPlanRepo creates a new PostgreSQL recovery plan repository.
func NewPlanRepo(db *DB) *PlanRepo {
	return &PlanRepo{db: db}
}

type planRow struct {
	ID              string       `db:"id"`
	JobID           string       `db:"job_id"`
	ItemID          string       `db:"item_id"`
	Reason          string       `db:"reason"`
	Status          string       `db:"status"`
	FirstDetectedAt time.Time    `db:"first_detected_at"`
	RetryAfter      sql.NullTime `db:"retry_after"`
}

func (row *planRow) toDomain() *domain.RecoveryPlanEntry {
	entry := &domain.RecoveryPlanEntry{
		ID:              row.ID,
		JobID:           row.JobID,
		ItemID:          row.ItemID,
		Reason:          row.Reason,
		Status:          domain.PlanEntryStatus(row.Status),
		FirstDetectedAt: row.FirstDetectedAt,
	}
	if row.RetryAfter.Valid {
		entry.RetryAfter = row.RetryAfter.Time
	}
	return entry
}

// Add appends a recovery plan entry.
func (r *PlanRepo) Add(ctx context.Context, entry *domain.RecoveryPlanEntry) error {
	query := `
		INSERT INTO recovery_plan (id, job_id, item_id, reason, status, first_detected_at, retry_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var retryAfter sql.NullTime
	if !entry.RetryAfter.IsZero() {
		retryAfter = sql.NullTime{Time: entry.RetryAfter, Valid: true}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.JobID,
		entry.ItemID,
		entry.Reason,
		string(entry.Status),
		entry.FirstDetectedAt,
		retryAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to add plan entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by id.
func (r *PlanRepo) Get(ctx context.Context, id string) (*domain.RecoveryPlanEntry, error) {
	query := `
		SELECT id, job_id, item_id, reason, status, first_detected_at, retry_after
		FROM recovery_plan
		WHERE id = $1
	`
	var row planRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan entry: %w", err)
	}
	return row.toDomain(), nil
}

// List retrieves entries, optionally filtered by status.
func (r *PlanRepo) List(ctx context.Context, status domain.PlanEntryStatus) ([]*domain.RecoveryPlanEntry, error) {
	query := `
		SELECT id, job_id, item_id, reason, status, first_detected_at, retry_after
		FROM recovery_plan
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY first_detected_at ASC`

	var rows []planRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list plan entries: %w", err)
	}

	out := make([]*domain.RecoveryPlanEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// MarkResubmitted flags an entry as re-queued into a new job.
func (r *PlanRepo) MarkResubmitted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE recovery_plan SET status = 'resubmitted' WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark plan entry resubmitted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}
