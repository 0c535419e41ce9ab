package api

import (
	"net/http"

	"receiptflow/internal/port/inbound"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	healthService inbound.HealthService
	errorHandler  ErrorHandler
}

func NewHealthHandler(healthService inbound.HealthService, errorHandler ErrorHandler) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
		errorHandler:  errorHandler,
	}
}

// GetHealth handles GET /health. Degraded reports still answer 200; only a
// hard dependency failure turns the endpoint 503.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response, err := h.healthService.GetHealth(r.Context())
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, response); err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
	}
}
