package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hackgods/subject-visit-tracking/internal/export"
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps service errors onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, err error) {
	var ve *tracking.ValidationError
	var nf *tracking.NotFoundError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Code:    string(ve.Code),
			Field:   ve.Field,
			Details: ve.Message,
		})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Kind+"_not_found", err.Error())
	case errors.Is(err, export.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_export_request", err.Error())
	case errors.Is(err, tracking.ErrExternalService):
		writeError(w, http.StatusBadGateway, "external_service_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
