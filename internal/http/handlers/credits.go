package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"resona/internal/ledger"
	"resona/internal/models"
)

// CreditHandlers serves balance and grant endpoints.
type CreditHandlers struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewCreditHandlers returns handler.
func NewCreditHandlers(svc *ledger.Service, logger *zap.Logger) *CreditHandlers {
	return &CreditHandlers{ledger: svc, logger: logger}
}

// Get handles GET /v1/users/{email}/credits.
func (h *CreditHandlers) Get(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	details, err := h.ledger.CreditDetails(r.Context(), email)
	if err != nil {
		h.logError("credit details failed", email, err)
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type addCreditsRequest struct {
	PackageID   *uuid.UUID     `json:"package_id,omitempty"`
	Amount      int64          `json:"amount,omitempty"`
	Source      string         `json:"source"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Add handles POST /v1/users/{email}/credits.
func (h *CreditHandlers) Add(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	var req addCreditsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.ledger.Issue(r.Context(), email, ledger.IssueParams{
		PackageID:   req.PackageID,
		Source:      models.TransactionSource(req.Source),
		Amount:      req.Amount,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.logError("credit grant failed", email, err)
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *CreditHandlers) logError(msg, email string, err error) {
	h.logger.Warn(msg, zap.String("email", email), zap.Error(err))
}
