package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"geoProcessor/api/dto"
	"geoProcessor/api/middleware"
	"geoProcessor/api/models"
	"geoProcessor/api/repository"
	"geoProcessor/storage"
)

// JobService is the orchestration surface the handlers talk to.
type JobService interface {
	SubmitJob(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error)
	GetJob(ctx context.Context, jobID string) (*dto.JobResponse, error)
	ListJobs(ctx context.Context, filter repository.JobFilter) (*dto.JobListResponse, error)
	CancelJob(ctx context.Context, jobID string) (*dto.CancelJobResponse, error)
	Result(ctx context.Context, jobID string) (io.ReadCloser, *storage.ObjectInfo, error)
	Cleanup(ctx context.Context, olderThan time.Time) (*dto.CleanupResponse, error)
}

type JobHandler struct {
	service JobService
	logger  *zap.Logger
}

func NewJobHandler(service JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Malformed request body", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.SubmitJob(r.Context(), traceID, &req)
	if err != nil {
		if errors.Is(err, dto.ErrValidation) {
			h.handleError(w, err.Error(), err, traceID, http.StatusBadRequest)
			return
		}
		h.handleError(w, "Failed to submit job", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Job submitted",
		zap.String("trace_id", traceID),
		zap.String("job_id", resp.JobID),
		zap.String("job_type", req.Type),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	jobID := r.PathValue("id")
	if jobID == "" {
		h.handleError(w, "Job ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, dto.ErrJobNotFound) {
			h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get job", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	filter := repository.JobFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		s := models.JobStatus(status)
		switch s {
		case models.StatusPending, models.StatusProcessing, models.StatusCompleted,
			models.StatusFailed, models.StatusCancelled:
			filter.Status = s
		default:
			h.handleError(w, "Unknown status filter", nil, traceID, http.StatusBadRequest)
			return
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 100 {
			h.handleError(w, "Limit must be between 1 and 100", err, traceID, http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if cursor := r.URL.Query().Get("before"); cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			h.handleError(w, "Malformed cursor", err, traceID, http.StatusBadRequest)
			return
		}
		filter.CreatedBefore = t
	}

	resp, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		h.handleError(w, "Failed to list jobs", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	jobID := r.PathValue("id")
	if jobID == "" {
		h.handleError(w, "Job ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CancelJob(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, dto.ErrJobNotFound):
			h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
		case errors.Is(err, dto.ErrConflict):
			h.handleError(w, "Job already finished", err, traceID, http.StatusConflict)
		default:
			h.handleError(w, "Failed to cancel job", err, traceID, http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info("Job cancellation requested",
		zap.String("trace_id", traceID),
		zap.String("job_id", jobID),
	)

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) Download(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	jobID := r.PathValue("id")
	if jobID == "" {
		h.handleError(w, "Job ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	rc, info, err := h.service.Result(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, dto.ErrJobNotFound):
			h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
		case errors.Is(err, dto.ErrNotReady):
			h.handleError(w, "Job result not ready", err, traceID, http.StatusConflict)
		default:
			h.handleError(w, "Failed to fetch result", err, traceID, http.StatusInternalServerError)
		}
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	// Refs are object keys like outputs/<job>/<name>.tif; only the base
	// name belongs in the filename.
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(info.Ref)+`"`)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Result stream interrupted",
			zap.String("trace_id", traceID),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

func (h *JobHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	retention := 24 * time.Hour
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.handleError(w, "Malformed older_than duration", err, traceID, http.StatusBadRequest)
			return
		}
		retention = d
	}

	resp, err := h.service.Cleanup(r.Context(), time.Now().UTC().Add(-retention))
	if err != nil {
		h.handleError(w, "Cleanup failed", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		// Do not leak internals to the caller.
		message = "Internal server error"
	} else {
		h.logger.Warn(message,
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *JobHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
