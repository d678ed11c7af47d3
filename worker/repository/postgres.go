package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// admissionLockID serializes claim transactions across all workers so
// the processing count and the status swap act as one atomic step.
const admissionLockID = 874002319

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `
		SELECT id, trace_id, job_type, status, progress, input_refs, parameters, deadline
		FROM jobs
		WHERE id = $1
	`

	var job Job
	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.TraceID,
		&job.Type,
		&job.Status,
		&job.Progress,
		&job.InputRefs,
		&job.Parameters,
		&job.Deadline,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &job, nil
}

func (r *PostgresRepo) ClaimJob(ctx context.Context, id string, ceiling int) (ClaimResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ClaimNoop, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, admissionLockID); err != nil {
		return ClaimNoop, fmt.Errorf("acquire admission lock: %w", err)
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClaimNoop, ErrJobNotFound
		}
		return ClaimNoop, err
	}

	// Duplicate delivery of an already claimed or finished job is a
	// no-op.
	if status != StatusPending {
		return ClaimNoop, nil
	}

	var inFlight int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = $1`, StatusProcessing).Scan(&inFlight)
	if err != nil {
		return ClaimNoop, err
	}
	if inFlight >= ceiling {
		return ClaimCeilingFull, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET status = $1, started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, StatusProcessing, id)
	if err != nil {
		return ClaimNoop, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ClaimNoop, fmt.Errorf("commit claim tx: %w", err)
	}

	return Claimed, nil
}

func (r *PostgresRepo) CompleteJob(ctx context.Context, id string, resultRef string) error {
	query := `
		UPDATE jobs
		SET status = $1, progress = 100, result_ref = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.Exec(ctx, query, StatusCompleted, resultRef, id, StatusProcessing)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}

	return nil
}

func (r *PostgresRepo) FailJob(ctx context.Context, id string, code string, message string) error {
	query := `
		UPDATE jobs
		SET status = $1, error_code = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.Exec(ctx, query, StatusFailed, code, message, id, StatusProcessing)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}

	return nil
}

func (r *PostgresRepo) CancelJob(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`

	result, err := r.db.Exec(ctx, query, StatusCancelled, id, StatusPending, StatusProcessing)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}

	return nil
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `
		UPDATE jobs
		SET progress = GREATEST(progress, $1), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	_, err := r.db.Exec(ctx, query, progress, id, StatusProcessing)
	return err
}

func (r *PostgresRepo) Heartbeat(ctx context.Context, id string) error {
	query := `UPDATE jobs SET heartbeat_at = NOW() WHERE id = $1 AND status = $2`

	_, err := r.db.Exec(ctx, query, id, StatusProcessing)
	return err
}

func (r *PostgresRepo) ExpireDeadlines(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE jobs
		SET status = $1, error_code = $2, error_message = 'job exceeded its deadline', completed_at = NOW(), updated_at = NOW()
		WHERE status = $3 AND deadline < $4
		RETURNING id
	`

	rows, err := r.db.Query(ctx, query, StatusFailed, ErrCodeTimeout, StatusProcessing, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *PostgresRepo) ReclaimOrphans(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, progress = 0, started_at = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE status = $2 AND heartbeat_at < $3
		RETURNING id, trace_id, job_type, status, progress, input_refs, parameters, deadline
	`

	rows, err := r.db.Query(ctx, query, StatusPending, StatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		err := rows.Scan(
			&job.ID,
			&job.TraceID,
			&job.Type,
			&job.Status,
			&job.Progress,
			&job.InputRefs,
			&job.Parameters,
			&job.Deadline,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

func (r *PostgresRepo) transitionConflict(ctx context.Context, id string) error {
	if _, err := r.GetJob(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}
