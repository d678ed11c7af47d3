package models

import (
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the job state machine. Transitions only move
// forward: pending -> processing -> completed/failed, and pending or
// processing -> cancelled.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusCancelled
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed || target == StatusCancelled
	}
	return false
}

type JobType string

const (
	TypeClip      JobType = "clip"
	TypeReproject JobType = "reproject"
	TypeResample  JobType = "resample"
	TypeMosaic    JobType = "mosaic"
)

func (t JobType) Valid() bool {
	switch t {
	case TypeClip, TypeReproject, TypeResample, TypeMosaic:
		return true
	}
	return false
}

// ErrorCode distinguishes why a job ended up failed. Timeout is recorded
// separately from transformation failures so clients can tell "took too
// long" apart from "the operation itself failed".
type ErrorCode string

const (
	ErrCodeTransformation ErrorCode = "transformation"
	ErrCodeTimeout        ErrorCode = "timeout"
	ErrCodeInternal       ErrorCode = "internal"
)

type Job struct {
	ID           string
	TraceID      string
	Type         JobType
	Status       JobStatus
	Progress     int
	InputRefs    []string
	Parameters   []byte
	ResultRef    string
	ErrorCode    ErrorCode
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Deadline     time.Time
	HeartbeatAt  *time.Time
}
