package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoProcessor/api/dto"
	"geoProcessor/api/middleware"
	"geoProcessor/api/validation"
	"geoProcessor/storage"
)

// UploadHandler puts incoming geodata files into the blob store and
// hands back the ref used in later job submissions.
type UploadHandler struct {
	blobs       storage.BlobStore
	logger      *zap.Logger
	maxFileSize int64
}

func NewUploadHandler(blobs storage.BlobStore, logger *zap.Logger, maxFileSize int64) *UploadHandler {
	return &UploadHandler{
		blobs:       blobs,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	fileType, err := h.validateFile(header, file)
	if err != nil {
		h.handleError(w, "Invalid file", err, traceID, http.StatusBadRequest)
		return
	}

	ref := uploadRef(header.Filename)
	contentType := validation.ContentTypeFor(fileType)

	if err := h.blobs.Put(r.Context(), ref, file, header.Size, contentType); err != nil {
		h.handleError(w, "Failed to store file", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("File uploaded",
		zap.String("trace_id", traceID),
		zap.String("ref", ref),
		zap.String("file_type", string(fileType)),
		zap.Int64("size", header.Size),
	)

	h.respondJSON(w, http.StatusCreated, dto.UploadResponse{
		Ref:      ref,
		Filename: header.Filename,
		FileType: string(fileType),
		Size:     header.Size,
	})
}

func (h *UploadHandler) validateFile(header *multipart.FileHeader, file multipart.File) (validation.FileType, error) {
	if header.Size > h.maxFileSize {
		return "", validation.ErrFileTooLarge
	}

	fileType, err := validation.DetectFileType(file)
	if err != nil {
		return "", err
	}

	if !extensionMatches(header.Filename, fileType) {
		return "", validation.ErrUnsupportedFormat
	}

	return fileType, nil
}

func extensionMatches(filename string, fileType validation.FileType) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	switch fileType {
	case validation.FileTypeGeoTIFF:
		return ext == ".tif" || ext == ".tiff"
	case validation.FileTypeShapefile:
		return ext == ".zip"
	case validation.FileTypeGeoJSON:
		return ext == ".geojson" || ext == ".json"
	}
	return false
}

// uploadRef namespaces the sanitized filename under a fresh uuid so
// repeated uploads of the same file never collide.
func uploadRef(filename string) string {
	return "uploads/" + uuid.New().String() + "/" + filepath.Base(filename)
}

func (h *UploadHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	if errors.Is(err, validation.ErrInvalidFileType) ||
		errors.Is(err, validation.ErrFileTooLarge) ||
		errors.Is(err, validation.ErrUnsupportedFormat) {
		message = err.Error()
	}

	h.logger.Warn(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *UploadHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
