package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"geoProcessor/api/database"
	"geoProcessor/api/models"
)

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) Repository {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, trace_id, job_type, status, progress, input_refs, parameters,
		result_ref, error_code, error_message, created_at, updated_at, started_at, completed_at, deadline, heartbeat_at`

func (r *PostgresRepo) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, trace_id, job_type, status, progress, input_refs, parameters, deadline)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.ID,
		job.TraceID,
		job.Type,
		job.Status,
		job.InputRefs,
		job.Parameters,
		job.Deadline,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return job, nil
}

func (r *PostgresRepo) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *PostgresRepo) CancelJob(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $1, progress = 0, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`

	result, err := r.db.Pool.Exec(ctx, query,
		models.StatusCancelled, id, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepo) DeleteJob(ctx context.Context, id string) error {
	query := `DELETE FROM jobs WHERE id = $1 AND status <> $2`

	result, err := r.db.Pool.Exec(ctx, query, id, models.StatusProcessing)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == models.StatusProcessing {
			return ErrJobInFlight
		}
		return ErrJobNotFound
	}

	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.TraceID,
		&job.Type,
		&job.Status,
		&job.Progress,
		&job.InputRefs,
		&job.Parameters,
		&job.ResultRef,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.Deadline,
		&job.HeartbeatAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
