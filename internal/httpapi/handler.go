package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maorm36/bulletin"
)

// Handler serves the bulletin endpoints.
type Handler struct {
	svc    bulletin.Service
	logger *slog.Logger
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc bulletin.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// Error maps err to a status code and sends it as JSON. Validation
// failures are client errors; everything else is logged and hidden.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := bulletin.IsValidationError(err); ok {
		h.JSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
		return
	}
	if errors.Is(err, bulletin.ErrNotConnected) {
		h.JSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
		return
	}
	h.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	h.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// Health reports whether the service is connected.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	if !h.svc.IsConnected() {
		h.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
