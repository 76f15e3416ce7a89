package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"resona/internal/ledger"
)

// ConsumeHandlers serves the deduction endpoints.
type ConsumeHandlers struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewConsumeHandlers returns handler.
func NewConsumeHandlers(svc *ledger.Service, logger *zap.Logger) *ConsumeHandlers {
	return &ConsumeHandlers{ledger: svc, logger: logger}
}

type deductRequest struct {
	Amount      int64          `json:"amount"`
	APIEndpoint string         `json:"api_endpoint"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Deduct handles POST /v1/users/{email}/credits/deduct.
func (h *ConsumeHandlers) Deduct(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	var req deductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.ledger.Deduct(r.Context(), email, ledger.DeductParams{
		Amount:      req.Amount,
		APIEndpoint: req.APIEndpoint,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.logger.Warn("deduction failed", zap.String("email", email), zap.Error(err))
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type deductActionRequest struct {
	ActionType string         `json:"action_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DeductAction handles POST /v1/users/{email}/credits/deduct-action. The
// amount comes from the action cost table rather than the request.
func (h *ConsumeHandlers) DeductAction(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	var req deductActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActionType == "" {
		writeError(w, http.StatusBadRequest, "action_type required")
		return
	}

	result, err := h.ledger.DeductForAction(r.Context(), email, req.ActionType, req.Metadata)
	if err != nil {
		h.logger.Warn("action deduction failed",
			zap.String("email", email),
			zap.String("action_type", req.ActionType),
			zap.Error(err),
		)
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
