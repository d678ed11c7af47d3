package repository

import (
	"context"
	"errors"
	"time"

	"geoProcessor/api/models"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobInFlight       = errors.New("job is processing")
)

// JobFilter narrows List. A zero filter returns the newest jobs.
// CreatedBefore acts as a cursor so listing is restartable.
type JobFilter struct {
	Status        models.JobStatus
	Limit         int
	CreatedBefore time.Time
}

type Repository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	// CancelJob transitions pending or processing to cancelled as a
	// compare-and-swap. A terminal write that commits first wins; the
	// losing cancel gets ErrInvalidTransition.
	CancelJob(ctx context.Context, id string) error

	// DeleteJob removes a job record. ErrJobInFlight while the job is
	// processing. Also the submission compensation path: if the task
	// cannot be enqueued, the freshly created row is deleted so no
	// orphaned pending job sits in the store without a queued task.
	DeleteJob(ctx context.Context, id string) error
}
