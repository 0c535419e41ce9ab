package api

import (
	"net/http"

	"receiptflow/internal/application/dto"
	"receiptflow/internal/port/inbound"
)

// BatchHandler handles HTTP requests for batch session operations.
type BatchHandler struct {
	batchService inbound.BatchService
	errorHandler ErrorHandler
}

func NewBatchHandler(batchService inbound.BatchService, errorHandler ErrorHandler) *BatchHandler {
	return &BatchHandler{
		batchService: batchService,
		errorHandler: errorHandler,
	}
}

// CreateBatch handles POST /batches.
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var request dto.CreateBatchRequest
	if err := decodeJSON(r, &request); err != nil {
		h.errorHandler.HandleValidationError(w, r, err)
		return
	}

	response, err := h.batchService.CreateBatch(r.Context(), request)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}

// GetBatch handles GET /batches/{id}.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.errorHandler.HandleValidationError(w, r, err)
		return
	}

	response, err := h.batchService.GetBatch(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}

// CancelBatch handles DELETE /batches/{id}.
func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.errorHandler.HandleValidationError(w, r, err)
		return
	}

	response, err := h.batchService.CancelBatch(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}
