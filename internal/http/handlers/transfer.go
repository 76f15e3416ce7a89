package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"resona/internal/ledger"
)

// TransferHandlers serves peer transfer endpoints.
type TransferHandlers struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewTransferHandlers returns handler.
func NewTransferHandlers(svc *ledger.Service, logger *zap.Logger) *TransferHandlers {
	return &TransferHandlers{ledger: svc, logger: logger}
}

type transferRequest struct {
	ToEmail     string `json:"to_email"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// Transfer handles POST /v1/users/{email}/credits/transfer.
func (h *TransferHandlers) Transfer(w http.ResponseWriter, r *http.Request) {
	fromEmail := chi.URLParam(r, "email")
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToEmail == "" {
		writeError(w, http.StatusBadRequest, "to_email required")
		return
	}

	result, err := h.ledger.Transfer(r.Context(), fromEmail, req.ToEmail, req.Amount, req.Description)
	if err != nil {
		h.logger.Warn("transfer failed",
			zap.String("from_email", fromEmail),
			zap.String("to_email", req.ToEmail),
			zap.Error(err),
		)
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type transferPreviewRequest struct {
	ToEmail string `json:"to_email"`
	Amount  int64  `json:"amount"`
}

// Preview handles POST /v1/users/{email}/credits/transfer/preview.
func (h *TransferHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	fromEmail := chi.URLParam(r, "email")
	var req transferPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToEmail == "" {
		writeError(w, http.StatusBadRequest, "to_email required")
		return
	}

	preview, err := h.ledger.TransferPreview(r.Context(), fromEmail, req.ToEmail, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
