package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// JobRepo is a domain.JobStore backed by a single "jobs" table, adapted
// from the teacher's jobs_repo.go to this domain's richer Job record and
// explicit-transaction update pattern.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo builds a JobRepo over an open pool.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const uniqueViolation = "23505"

// Create inserts a new job row; a unique-constraint violation on id or
// idempotency_key maps to ErrConflict.
func (r *JobRepo) Create(ctx context.Context, job domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, job_type, lane, request_body, created_at, updated_at, worker_job_id, result_url, error_message, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, string(job.Status), job.JobType, string(job.Lane), []byte(job.RequestBody),
		job.CreatedAt, job.UpdatedAt, job.WorkerJobID, job.ResultURL, job.ErrorMessage, job.IdempotencyKey,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job         domain.Job
		status, lane string
		body        []byte
	)
	err := row.Scan(&job.ID, &status, &job.JobType, &lane, &body, &job.CreatedAt, &job.UpdatedAt,
		&job.WorkerJobID, &job.ResultURL, &job.ErrorMessage, &job.IdempotencyKey)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.Lane = domain.Lane(lane)
	job.RequestBody = json.RawMessage(body)
	return job, nil
}

const selectColumns = `id, status, job_type, lane, request_body, created_at, updated_at, worker_job_id, result_url, error_message, idempotency_key`

// Get fetches a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// FindByIdempotencyKey fetches the job carrying the given key, if any.
func (r *JobRepo) FindByIdempotencyKey(ctx context.Context, key string) (domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("idempotency key %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("find by idempotency key: %w", err)
	}
	return job, nil
}

// Update runs fn inside an explicit transaction: select-for-update the
// current row, apply fn, write it back. This is the same
// read-then-write-in-a-transaction shape the teacher's UpdateStatus uses,
// generalized to an arbitrary mutation.
func (r *JobRepo) Update(ctx context.Context, id string, fn func(*domain.Job) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select job for update: %w", err)
	}

	if err := fn(&job); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, worker_job_id = $3, result_url = $4, error_message = $5, updated_at = now()
		WHERE id = $1`,
		id, string(job.Status), job.WorkerJobID, job.ResultURL, job.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update job %s: %w", id, err)
	}
	return nil
}

// QueryByStatus returns jobs in the given status, newest first.
func (r *JobRepo) QueryByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query by status %s: %w", status, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
