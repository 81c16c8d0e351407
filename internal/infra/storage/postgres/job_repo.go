package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL. Options and
// per-item results are stored as JSONB.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	ID        string    `db:"id"`
	Type      string    `db:"job_type"`
	Status    string    `db:"status"`
	Options   []byte    `db:"options"`
	Results   []byte    `db:"results"`
	ErrorMsg  string    `db:"error_msg"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:        row.ID,
		Type:      domain.JobType(row.Type),
		Status:    domain.JobStatus(row.Status),
		Error:     row.ErrorMsg,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Options) > 0 {
		if err := json.Unmarshal(row.Options, &job.Options); err != nil {
			return nil, fmt.Errorf("failed to decode job options: %w", err)
		}
	}
	if len(row.Results) > 0 {
		if err := json.Unmarshal(row.Results, &job.Results); err != nil {
			return nil, fmt.Errorf("failed to decode job results: %w", err)
		}
	}
	return job, nil
}

// Save upserts a job.
func (r *JobRepo) Save(ctx context.Context, job *domain.Job) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to encode job options: %w", err)
	}
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to encode job results: %w", err)
	}

	query := `
		INSERT INTO jobs (id, job_type, status, options, results, error_msg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			results = EXCLUDED.results,
			error_msg = EXCLUDED.error_msg,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		job.ID,
		string(job.Type),
		string(job.Status),
		options,
		results,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Get retrieves a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		SELECT id, job_type, status, options, results, error_msg, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var row jobRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// List retrieves jobs, optionally filtered by status.
func (r *JobRepo) List(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	query := `
		SELECT id, job_type, status, options, results, error_msg, created_at, updated_at
		FROM jobs
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Delete removes a job and its results.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
