package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"receiptflow/internal/application/dto"
	"receiptflow/internal/port/inbound"

	"github.com/google/uuid"
)

// Request body cap; job submissions are small JSON documents.
const maxRequestBodyBytes = 1 << 20

// JobHandler handles HTTP requests for single-job operations.
type JobHandler struct {
	jobService   inbound.JobService
	errorHandler ErrorHandler
}

func NewJobHandler(jobService inbound.JobService, errorHandler ErrorHandler) *JobHandler {
	return &JobHandler{
		jobService:   jobService,
		errorHandler: errorHandler,
	}
}

// EnqueueJob handles POST /jobs.
func (h *JobHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var request dto.EnqueueJobRequest
	if err := decodeJSON(r, &request); err != nil {
		h.errorHandler.HandleValidationError(w, r, err)
		return
	}

	response, err := h.jobService.EnqueueJob(r.Context(), request)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}

// GetJob handles GET /jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.errorHandler.HandleValidationError(w, r, err)
		return
	}

	response, err := h.jobService.GetJob(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}

// decodeJSON decodes a bounded request body, rejecting unknown fields.
func decodeJSON(r *http.Request, target interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + name + " path parameter")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}
