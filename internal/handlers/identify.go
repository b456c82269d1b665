package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/dawgdevv/identity-reconciliation/internal/logging"
	"github.com/dawgdevv/identity-reconciliation/internal/models"
	"github.com/dawgdevv/identity-reconciliation/internal/service"
)

// maxBodyBytes caps the size of an /identify request body
const maxBodyBytes = 1 << 16

// Reconciler is the part of [service.ReconciliationService] the handlers use
type Reconciler interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
	Lookup(ctx context.Context, id int64) (*models.IdentifyResponse, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service Reconciler
	logger  *log.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc Reconciler, logger *log.Logger) *IdentifyHandler {
	return &IdentifyHandler{service: svc, logger: logger}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), h.logger)

	var req models.IdentifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Warn("Error decoding request", "err", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	response, err := h.service.Identify(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Either email or phoneNumber must be provided")
		return
	case err != nil:
		logger.Error("Error processing identify request", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// Get serves the consolidated view of the group containing the contact in the path
func (h *IdentifyHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), h.logger)

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Contact id must be a positive integer")
		return
	}

	response, err := h.service.Lookup(r.Context(), id)
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Contact not found")
		return
	case err != nil:
		logger.Error("Error looking up contact", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent, nothing useful to do with an encode error
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
