package api

import (
	"net/http"

	"receiptflow/internal/port/inbound"
)

// QueueHandler handles HTTP requests for queue monitoring.
type QueueHandler struct {
	statistics   inbound.QueueStatisticsService
	errorHandler ErrorHandler
}

func NewQueueHandler(statistics inbound.QueueStatisticsService, errorHandler ErrorHandler) *QueueHandler {
	return &QueueHandler{
		statistics:   statistics,
		errorHandler: errorHandler,
	}
}

// GetStatistics handles GET /queue/statistics.
func (h *QueueHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	response, err := h.statistics.GetStatistics(r.Context())
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}

// ListWorkers handles GET /workers.
func (h *QueueHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	response, err := h.statistics.ListWorkers(r.Context())
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}
