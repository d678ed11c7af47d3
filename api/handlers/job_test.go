package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"geoProcessor/api/dto"
	"geoProcessor/api/repository"
	"geoProcessor/storage"
)

type mockJobService struct {
	submitFn  func(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error)
	getFn     func(ctx context.Context, jobID string) (*dto.JobResponse, error)
	listFn    func(ctx context.Context, filter repository.JobFilter) (*dto.JobListResponse, error)
	cancelFn  func(ctx context.Context, jobID string) (*dto.CancelJobResponse, error)
	resultFn  func(ctx context.Context, jobID string) (io.ReadCloser, *storage.ObjectInfo, error)
	cleanupFn func(ctx context.Context, olderThan time.Time) (*dto.CleanupResponse, error)
}

func (m *mockJobService) SubmitJob(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
	return m.submitFn(ctx, traceID, req)
}

func (m *mockJobService) GetJob(ctx context.Context, jobID string) (*dto.JobResponse, error) {
	return m.getFn(ctx, jobID)
}

func (m *mockJobService) ListJobs(ctx context.Context, filter repository.JobFilter) (*dto.JobListResponse, error) {
	return m.listFn(ctx, filter)
}

func (m *mockJobService) CancelJob(ctx context.Context, jobID string) (*dto.CancelJobResponse, error) {
	return m.cancelFn(ctx, jobID)
}

func (m *mockJobService) Result(ctx context.Context, jobID string) (io.ReadCloser, *storage.ObjectInfo, error) {
	return m.resultFn(ctx, jobID)
}

func (m *mockJobService) Cleanup(ctx context.Context, olderThan time.Time) (*dto.CleanupResponse, error) {
	return m.cleanupFn(ctx, olderThan)
}

func newMux(h *JobHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", h.Submit)
	mux.HandleFunc("GET /jobs", h.List)
	mux.HandleFunc("GET /jobs/{id}", h.Get)
	mux.HandleFunc("DELETE /jobs/{id}", h.Cancel)
	mux.HandleFunc("POST /jobs/cleanup", h.Cleanup)
	mux.HandleFunc("GET /download/{id}", h.Download)
	return mux
}

func TestJobHandler_Submit(t *testing.T) {
	svc := &mockJobService{
		submitFn: func(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
			if req.Type != "reproject" {
				t.Errorf("Unexpected job type: %s", req.Type)
			}
			return &dto.SubmitJobResponse{JobID: "job-1", Status: "pending"}, nil
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	body := `{"type":"reproject","input_refs":["uploads/a/in.tif"],"parameters":{"target_crs":"EPSG:3857"}}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dto.SubmitJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Malformed response: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != "pending" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestJobHandler_Submit_ValidationError(t *testing.T) {
	svc := &mockJobService{
		submitFn: func(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
			return nil, fmt.Errorf("%w: clip requires exactly 2 input refs", dto.ErrValidation)
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"type":"clip","input_refs":["a"]}`))
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var resp dto.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.Contains(resp.Error, "clip requires exactly 2 input refs") {
		t.Errorf("Expected validation detail in error, got %q", resp.Error)
	}
}

func TestJobHandler_Submit_MalformedBody(t *testing.T) {
	handler := NewJobHandler(&mockJobService{}, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestJobHandler_Submit_InternalErrorMasked(t *testing.T) {
	svc := &mockJobService{
		submitFn: func(ctx context.Context, traceID string, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
			return nil, fmt.Errorf("enqueue job: broker down at 10.0.0.3:9092")
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"type":"reproject","input_refs":["a"]}`))
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}

	var resp dto.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error != "Internal server error" {
		t.Errorf("Expected masked error, got %q", resp.Error)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.3") {
		t.Error("Internal detail leaked to the client")
	}
}

func TestJobHandler_Get(t *testing.T) {
	svc := &mockJobService{
		getFn: func(ctx context.Context, jobID string) (*dto.JobResponse, error) {
			if jobID != "job-1" {
				t.Errorf("Unexpected job ID: %s", jobID)
			}
			return &dto.JobResponse{ID: jobID, Status: "processing", Progress: 40}, nil
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp dto.JobResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "processing" || resp.Progress != 40 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestJobHandler_Get_NotFound(t *testing.T) {
	svc := &mockJobService{
		getFn: func(ctx context.Context, jobID string) (*dto.JobResponse, error) {
			return nil, dto.ErrJobNotFound
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/jobs/ghost", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestJobHandler_List_Filters(t *testing.T) {
	var captured repository.JobFilter
	svc := &mockJobService{
		listFn: func(ctx context.Context, filter repository.JobFilter) (*dto.JobListResponse, error) {
			captured = filter
			return &dto.JobListResponse{Jobs: []*dto.JobResponse{}}, nil
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	cursor := time.Now().UTC().Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodGet, "/jobs?status=failed&limit=10&before="+cursor, nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Status != "failed" || captured.Limit != 10 || captured.CreatedBefore.IsZero() {
		t.Errorf("Unexpected filter: %+v", captured)
	}
}

func TestJobHandler_List_BadParams(t *testing.T) {
	handler := NewJobHandler(&mockJobService{}, zaptest.NewLogger(t))

	for _, url := range []string{
		"/jobs?status=bogus",
		"/jobs?limit=0",
		"/jobs?limit=500",
		"/jobs?limit=abc",
		"/jobs?before=notadate",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		newMux(handler).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestJobHandler_Cancel(t *testing.T) {
	svc := &mockJobService{
		cancelFn: func(ctx context.Context, jobID string) (*dto.CancelJobResponse, error) {
			return &dto.CancelJobResponse{JobID: jobID, Status: "cancelled"}, nil
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp dto.CancelJobResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "cancelled" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestJobHandler_Cancel_Conflict(t *testing.T) {
	svc := &mockJobService{
		cancelFn: func(ctx context.Context, jobID string) (*dto.CancelJobResponse, error) {
			return nil, fmt.Errorf("%w: job already finished", dto.ErrConflict)
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rec.Code)
	}
}

func TestJobHandler_Download(t *testing.T) {
	svc := &mockJobService{
		resultFn: func(ctx context.Context, jobID string) (io.ReadCloser, *storage.ObjectInfo, error) {
			info := &storage.ObjectInfo{Ref: "outputs/job-1/out.tif", Size: 3, ContentType: "image/tiff"}
			return io.NopCloser(bytes.NewReader([]byte("tif"))), info, nil
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/download/job-1", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/tiff" {
		t.Errorf("Expected image/tiff, got %s", got)
	}
	// The filename must be the base name of the ref, not the object key.
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="out.tif"` {
		t.Errorf("Unexpected Content-Disposition: %s", got)
	}
	if rec.Body.String() != "tif" {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
}

func TestJobHandler_Download_NotReady(t *testing.T) {
	svc := &mockJobService{
		resultFn: func(ctx context.Context, jobID string) (io.ReadCloser, *storage.ObjectInfo, error) {
			return nil, nil, fmt.Errorf("%w: job status is processing", dto.ErrNotReady)
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/download/job-1", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rec.Code)
	}
}

func TestJobHandler_Cleanup(t *testing.T) {
	var captured time.Time
	svc := &mockJobService{
		cleanupFn: func(ctx context.Context, olderThan time.Time) (*dto.CleanupResponse, error) {
			captured = olderThan
			return &dto.CleanupResponse{Deleted: 3, Skipped: 1}, nil
		},
	}
	handler := NewJobHandler(svc, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/jobs/cleanup?older_than=1h", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	if time.Since(captured) < 55*time.Minute || time.Since(captured) > 65*time.Minute {
		t.Errorf("Expected cutoff about an hour ago, got %v", captured)
	}

	var resp dto.CleanupResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Deleted != 3 || resp.Skipped != 1 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestJobHandler_Cleanup_BadDuration(t *testing.T) {
	handler := NewJobHandler(&mockJobService{}, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/jobs/cleanup?older_than=yesterday", nil)
	rec := httptest.NewRecorder()
	newMux(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}
