package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"geoProcessor/storage"
	"geoProcessor/worker/kafka"
	"geoProcessor/worker/repository"
	"geoProcessor/worker/scheduler"
	"geoProcessor/worker/transform"
)

const terminalWriteTimeout = 10 * time.Second

// StatusCache is the slice of the redis cache the processor uses.
type StatusCache interface {
	Set(ctx context.Context, jobID string, status string, progress int) error
	IsCancelRequested(ctx context.Context, jobID string) bool
}

type Processor struct {
	repo      repository.Repository
	cache     StatusCache
	producer  kafka.Producer
	executor  transform.Executor
	blobs     storage.BlobStore
	registry  *scheduler.CancelRegistry
	logger    *zap.Logger
	topic     string
	ceiling   int
	heartbeat time.Duration
}

func NewProcessor(
	repo repository.Repository,
	cache StatusCache,
	producer kafka.Producer,
	executor transform.Executor,
	blobs storage.BlobStore,
	registry *scheduler.CancelRegistry,
	logger *zap.Logger,
	topic string,
	ceiling int,
	heartbeat time.Duration,
) *Processor {
	return &Processor{
		repo:      repo,
		cache:     cache,
		producer:  producer,
		executor:  executor,
		blobs:     blobs,
		registry:  registry,
		logger:    logger,
		topic:     topic,
		ceiling:   ceiling,
		heartbeat: heartbeat,
	}
}

// Process handles one delivery. Duplicate deliveries and cancelled jobs
// are dropped at the claim, a full admission ceiling sends the task
// back to the queue with backoff. Process never returns the job's own
// failure as an error; the failure lands in the job row instead.
func (p *Processor) Process(ctx context.Context, msg *kafka.JobMessage) error {
	logger := p.logger.With(zap.String("job_id", msg.JobID), zap.String("trace_id", msg.TraceID))

	result, err := p.repo.ClaimJob(ctx, msg.JobID, p.ceiling)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			logger.Warn("Dropping message for unknown job")
			return nil
		}
		logger.Error("Claim failed", zap.Error(err))
		return err
	}

	switch result {
	case repository.ClaimNoop:
		logger.Info("Job no longer pending, dropping message")
		return nil
	case repository.ClaimCeilingFull:
		return p.requeue(ctx, msg, logger)
	}

	job, err := p.repo.GetJob(ctx, msg.JobID)
	if err != nil {
		logger.Error("Failed to load claimed job", zap.Error(err))
		p.fail(msg.JobID, repository.ErrCodeInternal, "failed to load job", logger)
		return nil
	}

	if !job.Deadline.After(time.Now()) {
		logger.Warn("Job already past its deadline")
		p.fail(job.ID, repository.ErrCodeTimeout, "job exceeded its deadline", logger)
		return nil
	}

	p.cache.Set(ctx, job.ID, repository.StatusProcessing, 0)

	runCtx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()
	p.registry.Register(job.ID, cancel)
	defer p.registry.Unregister(job.ID)

	progress := make(chan int, 16)
	monitorDone := make(chan struct{})
	go p.monitor(runCtx, job.ID, progress, cancel, monitorDone)

	resultRef, execErr := p.executor.Execute(runCtx, job, progress)

	cancel()
	<-monitorDone

	if execErr != nil {
		p.finishFailed(job.ID, runCtx, execErr, logger)
		return nil
	}

	p.finishCompleted(job.ID, resultRef, logger)
	return nil
}

func (p *Processor) requeue(ctx context.Context, msg *kafka.JobMessage, logger *zap.Logger) error {
	delay := scheduler.RequeueDelay(msg.Attempt + 1)
	logger.Info("Admission ceiling full, requeueing",
		zap.Int("attempt", msg.Attempt+1),
		zap.Duration("delay", delay),
	)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}

	// Requeue even during shutdown, otherwise the pending row has no
	// message left to deliver it.
	sendCtx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	requeued := &kafka.JobMessage{
		JobID:   msg.JobID,
		TraceID: msg.TraceID,
		JobType: msg.JobType,
		Attempt: msg.Attempt + 1,
	}
	if err := p.producer.SendJobMessage(sendCtx, p.topic, requeued); err != nil {
		logger.Error("Failed to requeue job", zap.Error(err))
		return err
	}
	return nil
}

// monitor drains progress updates, heartbeats, and polls the cancel
// flag while the transformation runs.
func (p *Processor) monitor(ctx context.Context, jobID string, progress <-chan int, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-ctx.Done():
			return
		case value := <-progress:
			if value <= last {
				continue
			}
			last = value
			p.repo.UpdateProgress(ctx, jobID, value)
			p.cache.Set(ctx, jobID, repository.StatusProcessing, value)
		case <-ticker.C:
			p.repo.Heartbeat(ctx, jobID)
			if p.cache.IsCancelRequested(ctx, jobID) {
				cancel()
				return
			}
		}
	}
}

func (p *Processor) finishCompleted(jobID string, resultRef string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	err := p.repo.CompleteJob(ctx, jobID, resultRef)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Lost the terminal race to a cancel or deadline sweep. The
			// row wins; discard the produced result.
			logger.Warn("Job reached a terminal state elsewhere, discarding result",
				zap.String("result_ref", resultRef),
			)
			if rmErr := p.blobs.Remove(ctx, resultRef); rmErr != nil {
				logger.Warn("Failed to remove discarded result", zap.Error(rmErr))
			}
			return
		}
		logger.Error("Failed to complete job", zap.Error(err))
		return
	}

	p.cache.Set(ctx, jobID, repository.StatusCompleted, 100)
	logger.Info("Job completed", zap.String("result_ref", resultRef))
}

func (p *Processor) finishFailed(jobID string, runCtx context.Context, execErr error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if p.cache.IsCancelRequested(ctx, jobID) {
		err := p.repo.CancelJob(ctx, jobID)
		if err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
			logger.Error("Failed to cancel job", zap.Error(err))
			return
		}
		p.cache.Set(ctx, jobID, repository.StatusCancelled, 0)
		logger.Info("Job cancelled")
		return
	}

	code := repository.ErrCodeTransformation
	switch {
	case errors.Is(execErr, context.DeadlineExceeded):
		code = repository.ErrCodeTimeout
	case errors.Is(execErr, context.Canceled):
		// Shutdown or a deadline sweep stopped the run. The sweep owns
		// the terminal write, or orphan reclaim requeues the job.
		logger.Info("Run stopped, leaving job to the sweep")
		return
	}
	p.fail(jobID, code, execErr.Error(), logger)
}

func (p *Processor) fail(jobID string, code string, message string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	err := p.repo.FailJob(ctx, jobID, code, message)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			logger.Info("Job reached a terminal state elsewhere")
			return
		}
		logger.Error("Failed to mark job failed", zap.Error(err))
		return
	}

	p.cache.Set(ctx, jobID, repository.StatusFailed, 0)
	logger.Warn("Job failed", zap.String("error_code", code), zap.String("error_message", message))
}
