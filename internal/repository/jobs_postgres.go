package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			project_id,
			job_type,
			external_thread_id,
			external_run_id,
			status,
			error_message,
			originating_chat_thread_id,
			associated_file_id,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		job.ProjectID,
		string(job.Type),
		job.ExternalThreadID,
		job.ExternalRunID,
		string(job.Status),
		job.ErrorMessage,
		job.OriginatingChatThreadID,
		job.AssociatedFileID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
			error_message = $3,
			external_thread_id = $4,
			external_run_id = $5,
			updated_at = $6
		WHERE id = $1
	`, job.ID, string(job.Status), job.ErrorMessage, job.ExternalThreadID, job.ExternalRunID, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.queryJob(ctx, `
		SELECT id, project_id, job_type, external_thread_id, external_run_id,
			status, error_message, originating_chat_thread_id, associated_file_id,
			created_at, updated_at
		FROM jobs
		WHERE id = $1
	`, jobID)
}

func (r *PostgresJobsRepository) GetLatestJob(
	ctx context.Context,
	projectID string,
	jobType domain.JobType,
) (*domain.Job, error) {
	return r.queryJob(ctx, `
		SELECT id, project_id, job_type, external_thread_id, external_run_id,
			status, error_message, originating_chat_thread_id, associated_file_id,
			created_at, updated_at
		FROM jobs
		WHERE project_id = $1 AND job_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, projectID, string(jobType))
}

func (r *PostgresJobsRepository) GetActiveJob(
	ctx context.Context,
	projectID string,
	jobType domain.JobType,
) (*domain.Job, error) {
	return r.queryJob(ctx, `
		SELECT id, project_id, job_type, external_thread_id, external_run_id,
			status, error_message, originating_chat_thread_id, associated_file_id,
			created_at, updated_at
		FROM jobs
		WHERE project_id = $1 AND job_type = $2
			AND status NOT IN ('completed','failed')
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, projectID, string(jobType))
}

func (r *PostgresJobsRepository) queryJob(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	var (
		job     domain.Job
		jobType string
		status  string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&job.ID,
		&job.ProjectID,
		&jobType,
		&job.ExternalThreadID,
		&job.ExternalRunID,
		&status,
		&job.ErrorMessage,
		&job.OriginatingChatThreadID,
		&job.AssociatedFileID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	return &job, nil
}
