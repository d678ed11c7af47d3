package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"geoProcessor/api/models"
)

// MemoryRepo is a mutex-guarded in-memory Repository. It backs tests and
// single-process deployments that run without Postgres.
type MemoryRepo struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{jobs: make(map[string]*models.Job)}
}

func (r *MemoryRepo) CreateJob(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := cloneJob(job)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.jobs[stored.ID] = stored

	job.CreatedAt = stored.CreatedAt
	job.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *MemoryRepo) GetJob(ctx context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryRepo) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range r.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !job.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

func (r *MemoryRepo) CancelJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(models.StatusCancelled) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	job.Status = models.StatusCancelled
	job.Progress = 0
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *MemoryRepo) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == models.StatusProcessing {
		return ErrJobInFlight
	}

	delete(r.jobs, id)
	return nil
}

func cloneJob(job *models.Job) *models.Job {
	clone := *job
	clone.InputRefs = append([]string(nil), job.InputRefs...)
	clone.Parameters = append([]byte(nil), job.Parameters...)
	return &clone
}
