package dto

import (
	"encoding/json"
	"errors"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotReady     = errors.New("result not ready")
	ErrResultLost   = errors.New("completed job has no result")
	ErrUnknownInput = errors.New("unknown input reference")
)

type SubmitJobRequest struct {
	Type       string          `json:"type"`
	InputRefs  []string        `json:"input_refs"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type SubmitJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	TraceID string `json:"trace_id,omitempty"`
}

type JobResponse struct {
	ID           string          `json:"id"`
	TraceID      string          `json:"trace_id,omitempty"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	InputRefs    []string        `json:"input_refs"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	ResultRef    string          `json:"result_ref,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs       []*JobResponse `json:"jobs"`
	Total      int            `json:"total"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type CancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type UploadResponse struct {
	Ref      string `json:"ref"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Size     int64  `json:"size"`
}

type CleanupResponse struct {
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
