package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Shortfall string `json:"shortfall,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

// statusFor maps an error kind to its HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrNoAvailableResource):
		return http.StatusConflict, "no_available_resource"
	case errors.Is(err, domain.ErrActiveRentalExists):
		return http.StatusConflict, "active_rental_exists"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, domain.ErrDeviceFailure):
		return http.StatusBadGateway, "device_failure"
	case errors.Is(err, domain.ErrInternalInconsistency):
		return http.StatusInternalServerError, "internal_inconsistency"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	if short, ok := domain.ShortfallOf(err); ok {
		resp.Shortfall = short.StringFixed(2)
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "code", code, "error", err)
		if code == "internal_error" {
			resp.Error = "internal error"
		}
	} else {
		logger.DebugContext(r.Context(), "Request rejected", "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeMessage(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
