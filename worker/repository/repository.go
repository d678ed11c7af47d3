package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Job is the worker-side view of a job row. Parameters stay raw; they
// were validated at submission and only the transformation decodes them.
type Job struct {
	ID         string
	TraceID    string
	Type       string
	Status     string
	Progress   int
	InputRefs  []string
	Parameters []byte
	Deadline   time.Time
}

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

const (
	ErrCodeTransformation = "transformation"
	ErrCodeTimeout        = "timeout"
	ErrCodeInternal       = "internal"
)

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult int

const (
	// Claimed means the pending -> processing swap succeeded and this
	// worker now owns the job.
	Claimed ClaimResult = iota
	// ClaimNoop means the job was no longer pending (duplicate
	// delivery, cancelled, or already owned). Drop the message.
	ClaimNoop
	// ClaimCeilingFull means the admission ceiling was reached. The
	// task should go back to the queue with backoff.
	ClaimCeilingFull
)

type Repository interface {
	GetJob(ctx context.Context, id string) (*Job, error)

	// ClaimJob attempts the pending -> processing compare-and-swap.
	// The swap and the ceiling count happen inside one transactional
	// boundary so two workers cannot both take the last slot.
	ClaimJob(ctx context.Context, id string, ceiling int) (ClaimResult, error)

	CompleteJob(ctx context.Context, id string, resultRef string) error
	FailJob(ctx context.Context, id string, code string, message string) error
	CancelJob(ctx context.Context, id string) error

	// UpdateProgress is best-effort and monotonic: writes never lower
	// the stored value and only apply while the job is processing.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Heartbeat proves this worker is still alive so the sweep does
	// not reclaim the job.
	Heartbeat(ctx context.Context, id string) error

	// ExpireDeadlines force-fails processing jobs past their deadline
	// and returns their IDs.
	ExpireDeadlines(ctx context.Context, now time.Time) ([]string, error)

	// ReclaimOrphans resets processing jobs whose heartbeat went stale
	// before the cutoff back to pending and returns them for requeue.
	// This is the crash-recovery path; it deliberately steps outside
	// the forward-only state machine.
	ReclaimOrphans(ctx context.Context, cutoff time.Time) ([]*Job, error)
}
