package repository

import (
	"context"
	"sync"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

// JobsRepository persists the lifecycle of asynchronous external compute
// jobs.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// GetLatestJob returns the most recently created job for the project
	// and type, terminal or not. ErrNotFound means not_started.
	GetLatestJob(ctx context.Context, projectID string, jobType domain.JobType) (*domain.Job, error)

	// GetActiveJob returns the most recent non-terminal job for the
	// project and type, or ErrNotFound.
	GetActiveJob(ctx context.Context, projectID string, jobType domain.JobType) (*domain.Job, error)
}

// MemoryJobsRepository stores jobs in memory for local development and
// tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	// insertion order, newest last; CreatedAt alone cannot break ties.
	order []string
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *job
	r.jobs[job.ID] = &clone
	r.order = append(r.order, job.ID)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *MemoryJobsRepository) GetLatestJob(
	_ context.Context,
	projectID string,
	jobType domain.JobType,
) (*domain.Job, error) {
	return r.findNewest(projectID, jobType, false)
}

func (r *MemoryJobsRepository) GetActiveJob(
	_ context.Context,
	projectID string,
	jobType domain.JobType,
) (*domain.Job, error) {
	return r.findNewest(projectID, jobType, true)
}

func (r *MemoryJobsRepository) findNewest(
	projectID string,
	jobType domain.JobType,
	activeOnly bool,
) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for index := len(r.order) - 1; index >= 0; index-- {
		job, ok := r.jobs[r.order[index]]
		if !ok {
			continue
		}
		if job.ProjectID != projectID || job.Type != jobType {
			continue
		}
		if activeOnly && job.Status.IsTerminal() {
			continue
		}
		clone := *job
		return &clone, nil
	}
	return nil, ErrNotFound
}
