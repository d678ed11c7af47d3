package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo implements Repository in memory under a single mutex, so
// the claim swap and the ceiling count share one critical section just
// like the Postgres transaction. Used by tests.
type MemoryRepo struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
}

type memoryJob struct {
	Job
	ErrorCode    string
	ErrorMessage string
	ResultRef    string
	HeartbeatAt  time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{jobs: make(map[string]*memoryJob)}
}

// Seed inserts a job directly, bypassing validation. Test helper.
func (r *MemoryRepo) Seed(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.Deadline.IsZero() {
		job.Deadline = time.Now().Add(time.Hour)
	}
	r.jobs[job.ID] = &memoryJob{Job: *job}
}

// Snapshot returns a copy of the stored job including terminal details.
// Test helper.
func (r *MemoryRepo) Snapshot(id string) (Job, string, string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, "", "", "", false
	}
	return job.Job, job.ResultRef, job.ErrorCode, job.ErrorMessage, true
}

func (r *MemoryRepo) GetJob(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := job.Job
	return &clone, nil
}

func (r *MemoryRepo) ClaimJob(ctx context.Context, id string, ceiling int) (ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ClaimNoop, ErrJobNotFound
	}
	if job.Status != StatusPending {
		return ClaimNoop, nil
	}

	inFlight := 0
	for _, j := range r.jobs {
		if j.Status == StatusProcessing {
			inFlight++
		}
	}
	if inFlight >= ceiling {
		return ClaimCeilingFull, nil
	}

	job.Status = StatusProcessing
	job.HeartbeatAt = time.Now()
	return Claimed, nil
}

func (r *MemoryRepo) CompleteJob(ctx context.Context, id string, resultRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	job.Status = StatusCompleted
	job.Progress = 100
	job.ResultRef = resultRef
	return nil
}

func (r *MemoryRepo) FailJob(ctx context.Context, id string, code string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	job.Status = StatusFailed
	job.ErrorCode = code
	job.ErrorMessage = message
	return nil
}

func (r *MemoryRepo) CancelJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusPending && job.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	job.Status = StatusCancelled
	return nil
}

func (r *MemoryRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == StatusProcessing && progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (r *MemoryRepo) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == StatusProcessing {
		job.HeartbeatAt = time.Now()
	}
	return nil
}

func (r *MemoryRepo) ExpireDeadlines(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, job := range r.jobs {
		if job.Status == StatusProcessing && job.Deadline.Before(now) {
			job.Status = StatusFailed
			job.ErrorCode = ErrCodeTimeout
			job.ErrorMessage = "job exceeded its deadline"
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *MemoryRepo) ReclaimOrphans(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []*Job
	for _, job := range r.jobs {
		if job.Status == StatusProcessing && !job.HeartbeatAt.IsZero() && job.HeartbeatAt.Before(cutoff) {
			job.Status = StatusPending
			job.Progress = 0
			job.HeartbeatAt = time.Time{}
			clone := job.Job
			jobs = append(jobs, &clone)
		}
	}
	return jobs, nil
}
