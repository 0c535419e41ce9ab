package api

import (
	"errors"
	"net/http"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/application/dto"
	"receiptflow/internal/application/service"
)

// ErrorHandler maps service errors onto the API error envelope.
type ErrorHandler struct{}

func NewErrorHandler() ErrorHandler {
	return ErrorHandler{}
}

// HandleValidationError writes a 400 for malformed or invalid requests.
func (ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "invalid_request", err)
}

// HandleServiceError maps application sentinel errors to statuses;
// everything unrecognized is a 500.
func (ErrorHandler) HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrBatchNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err)
	default:
		slogger.ErrorWithError(r.Context(), err, "Unhandled service error", slogger.Fields2(
			"method", r.Method,
			"path", r.URL.Path,
		))
		writeError(w, r, http.StatusInternalServerError, "internal_error",
			errors.New("an internal error occurred"))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	response := dto.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	}
	if writeErr := WriteJSON(w, status, response); writeErr != nil {
		slogger.ErrorWithError(r.Context(), writeErr, "Failed to write error response", nil)
	}
}
