package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoProcessor/api/dto"
	"geoProcessor/api/kafka"
	"geoProcessor/api/models"
	"geoProcessor/api/repository"
	"geoProcessor/storage"
)

// StatusCache is the slice of the redis cache the service needs. The
// cached value is the full job projection, not just status/progress, so
// a cache hit can answer a status poll with the complete payload.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*dto.JobResponse, error)
	Set(ctx context.Context, jobID string, job *dto.JobResponse) error
	Delete(ctx context.Context, jobID string) error
	RequestCancel(ctx context.Context, jobID string) error
}

type JobService struct {
	repo        repository.Repository
	cache       StatusCache
	producer    kafka.Producer
	blobs       storage.BlobStore
	logger      *zap.Logger
	topic       string
	maxDuration time.Duration
}

func NewJobService(
	repo repository.Repository,
	cache StatusCache,
	producer kafka.Producer,
	blobs storage.BlobStore,
	logger *zap.Logger,
	topic string,
	maxDuration time.Duration,
) *JobService {
	return &JobService{
		repo:        repo,
		cache:       cache,
		producer:    producer,
		blobs:       blobs,
		logger:      logger,
		topic:       topic,
		maxDuration: maxDuration,
	}
}

// SubmitJob validates the request, creates the job record and enqueues
// the task. Creation and enqueue form one logical unit: if the enqueue
// fails the record is deleted again so no pending job exists without a
// queued task.
func (s *JobService) SubmitJob(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
	jobType := models.JobType(req.Type)
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: unsupported job type: %s", dto.ErrValidation, req.Type)
	}

	if err := models.ValidateInputRefs(jobType, req.InputRefs); err != nil {
		return nil, fmt.Errorf("%w: %s", dto.ErrValidation, err)
	}

	params, err := models.ParseParameters(jobType, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", dto.ErrValidation, err)
	}

	for _, ref := range req.InputRefs {
		if _, err := s.blobs.Stat(ctx, ref); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, fmt.Errorf("%w: %s: %s", dto.ErrValidation, dto.ErrUnknownInput, ref)
			}
			return nil, fmt.Errorf("stat input ref %s: %w", ref, err)
		}
	}

	// Re-marshal so defaulted fields (resampling method, mosaic method)
	// are persisted explicitly.
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	job := &models.Job{
		ID:         uuid.New().String(),
		TraceID:    traceID,
		Type:       jobType,
		Status:     models.StatusPending,
		InputRefs:  req.InputRefs,
		Parameters: rawParams,
		Deadline:   time.Now().UTC().Add(s.maxDuration),
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.cache.Set(ctx, job.ID, toResponse(job))

	msg := &kafka.JobMessage{
		JobID:   job.ID,
		TraceID: traceID,
		JobType: string(jobType),
	}
	if err := s.producer.SendJobMessage(ctx, s.topic, msg); err != nil {
		if delErr := s.repo.DeleteJob(ctx, job.ID); delErr != nil {
			s.logger.Error("Failed to roll back job after enqueue failure",
				zap.String("job_id", job.ID),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return &dto.SubmitJobResponse{
		JobID:   job.ID,
		Status:  string(models.StatusPending),
		TraceID: traceID,
	}, nil
}

// GetJob serves hot status polls from the cache; misses fall back to
// the store and repopulate it with the full projection, so a hit never
// degrades the payload. The worker drops the cached entry when a job
// reaches a terminal state, which forces the first terminal read onto
// the row and picks up the result ref and error fields.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*dto.JobResponse, error) {
	if entry, err := s.cache.Get(ctx, jobID); err == nil {
		return entry, nil
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, dto.ErrJobNotFound
		}
		return nil, err
	}

	resp := toResponse(job)
	s.cache.Set(ctx, job.ID, resp)

	return resp, nil
}

func (s *JobService) ListJobs(ctx context.Context, filter repository.JobFilter) (*dto.JobListResponse, error) {
	jobs, err := s.repo.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := &dto.JobListResponse{Jobs: make([]*dto.JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toResponse(job))
	}
	resp.Total = len(resp.Jobs)
	if len(jobs) > 0 {
		resp.NextCursor = jobs[len(jobs)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	return resp, nil
}

// CancelJob requests cancellation. Pending jobs flip to cancelled right
// away; processing jobs flip too and additionally get the cooperative
// flag raised so the in-flight transformation can abort. A job that
// reached a terminal state first wins the race and the cancel conflicts.
func (s *JobService) CancelJob(ctx context.Context, jobID string) (*dto.CancelJobResponse, error) {
	if err := s.repo.CancelJob(ctx, jobID); err != nil {
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			return nil, dto.ErrJobNotFound
		case errors.Is(err, repository.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: job already finished", dto.ErrConflict)
		}
		return nil, err
	}

	if err := s.cache.Delete(ctx, jobID); err != nil {
		s.logger.Warn("Failed to drop cached job projection",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
	if err := s.cache.RequestCancel(ctx, jobID); err != nil {
		s.logger.Warn("Failed to raise cancellation flag",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}

	return &dto.CancelJobResponse{
		JobID:  jobID,
		Status: string(models.StatusCancelled),
	}, nil
}

// Result streams the output blob of a completed job.
func (s *JobService) Result(ctx context.Context, jobID string) (io.ReadCloser, *storage.ObjectInfo, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, nil, dto.ErrJobNotFound
		}
		return nil, nil, err
	}

	if job.Status != models.StatusCompleted {
		return nil, nil, fmt.Errorf("%w: job status is %s", dto.ErrNotReady, job.Status)
	}

	if job.ResultRef == "" {
		// Invariant violation: completed implies result_ref is set.
		s.logger.Error("Completed job has no result ref",
			zap.String("job_id", jobID),
		)
		return nil, nil, dto.ErrResultLost
	}

	rc, info, err := s.blobs.Get(ctx, job.ResultRef)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Error("Result blob missing from store",
				zap.String("job_id", jobID),
				zap.String("result_ref", job.ResultRef),
			)
			return nil, nil, dto.ErrResultLost
		}
		return nil, nil, err
	}

	return rc, info, nil
}

// Cleanup deletes terminal jobs older than the cutoff. Jobs in flight
// are skipped; the store refuses to delete them anyway.
func (s *JobService) Cleanup(ctx context.Context, olderThan time.Time) (*dto.CleanupResponse, error) {
	resp := &dto.CleanupResponse{}

	jobs, err := s.repo.ListJobs(ctx, repository.JobFilter{CreatedBefore: olderThan, Limit: 500})
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if !job.Status.Terminal() {
			resp.Skipped++
			continue
		}
		if err := s.repo.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Warn("Cleanup skipped job",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			resp.Skipped++
			continue
		}
		resp.Deleted++
	}

	return resp, nil
}

func toResponse(job *models.Job) *dto.JobResponse {
	var completedAt *string
	if job.CompletedAt != nil {
		formatted := job.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	}

	return &dto.JobResponse{
		ID:           job.ID,
		TraceID:      job.TraceID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Progress:     job.Progress,
		InputRefs:    job.InputRefs,
		Parameters:   json.RawMessage(job.Parameters),
		ResultRef:    job.ResultRef,
		ErrorCode:    string(job.ErrorCode),
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
		CompletedAt:  completedAt,
	}
}
