package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"geoProcessor/worker/kafka"
	"geoProcessor/worker/repository"
)

// StatusCache is the slice of the redis cache the sweeper writes to.
type StatusCache interface {
	Set(ctx context.Context, jobID string, status string, progress int) error
}

const (
	baseRequeueDelay = 2 * time.Second
	maxRequeueDelay  = 2 * time.Minute
)

// RequeueDelay returns the exponential backoff before a task rejected
// by a full admission ceiling goes back to the queue.
func RequeueDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseRequeueDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRequeueDelay {
			return maxRequeueDelay
		}
	}
	return delay
}

// CancelRegistry tracks the cancel function of every job this worker
// instance is currently running, so the sweeper can stop local work
// when a deadline expires.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *CancelRegistry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

func (r *CancelRegistry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

// Cancel fires the registered cancel function, if any, and reports
// whether the job was running on this instance.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Sweeper periodically fails processing jobs past their deadline and
// requeues jobs whose owning worker stopped heartbeating.
type Sweeper struct {
	repo      repository.Repository
	cache     StatusCache
	producer  kafka.Producer
	registry  *CancelRegistry
	logger    *zap.Logger
	topic     string
	interval  time.Duration
	heartbeat time.Duration
}

func NewSweeper(
	repo repository.Repository,
	statusCache StatusCache,
	producer kafka.Producer,
	registry *CancelRegistry,
	logger *zap.Logger,
	topic string,
	interval time.Duration,
	heartbeatGrace time.Duration,
) *Sweeper {
	return &Sweeper{
		repo:      repo,
		cache:     statusCache,
		producer:  producer,
		registry:  registry,
		logger:    logger,
		topic:     topic,
		interval:  interval,
		heartbeat: heartbeatGrace,
	}
}

// Run blocks until ctx is done, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	s.expireDeadlines(ctx)
	s.reclaimOrphans(ctx)
}

func (s *Sweeper) expireDeadlines(ctx context.Context) {
	ids, err := s.repo.ExpireDeadlines(ctx, time.Now())
	if err != nil {
		s.logger.Error("Deadline sweep failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		s.logger.Warn("Job exceeded its deadline", zap.String("job_id", id))

		// Stop the local run if this instance owns the job. The row is
		// already failed, so the processor's terminal write will lose
		// the compare-and-swap and discard its result.
		s.registry.Cancel(id)

		if err := s.cache.Set(ctx, id, repository.StatusFailed, 0); err != nil {
			s.logger.Warn("Failed to update status cache", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func (s *Sweeper) reclaimOrphans(ctx context.Context) {
	cutoff := time.Now().Add(-s.heartbeat)
	jobs, err := s.repo.ReclaimOrphans(ctx, cutoff)
	if err != nil {
		s.logger.Error("Orphan sweep failed", zap.Error(err))
		return
	}

	for _, job := range jobs {
		s.logger.Warn("Reclaimed orphaned job", zap.String("job_id", job.ID))

		if err := s.cache.Set(ctx, job.ID, repository.StatusPending, 0); err != nil {
			s.logger.Warn("Failed to update status cache", zap.String("job_id", job.ID), zap.Error(err))
		}

		msg := &kafka.JobMessage{
			JobID:   job.ID,
			TraceID: job.TraceID,
			JobType: job.Type,
		}
		if err := s.producer.SendJobMessage(ctx, s.topic, msg); err != nil {
			// The row is pending again; the next sweep retries the
			// requeue.
			s.logger.Error("Failed to requeue reclaimed job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
