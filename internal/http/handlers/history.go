package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"resona/internal/ledger"
	"resona/internal/models"
)

// HistoryHandlers serves transaction history and analytics.
type HistoryHandlers struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewHistoryHandlers returns handler.
func NewHistoryHandlers(svc *ledger.Service, logger *zap.Logger) *HistoryHandlers {
	return &HistoryHandlers{ledger: svc, logger: logger}
}

type historyResponse struct {
	Transactions []ledger.HistoryEntry `json:"transactions"`
	Pagination   ledger.PageMeta       `json:"pagination"`
}

// List handles GET /v1/users/{email}/transactions.
func (h *HistoryHandlers) List(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	entries, meta, err := h.ledger.History(r.Context(), email, filter, page, pageSize)
	if err != nil {
		h.logger.Warn("history query failed", zap.String("email", email), zap.Error(err))
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Transactions: entries, Pagination: meta})
}

// Analytics handles GET /v1/users/{email}/transactions/analytics.
func (h *HistoryHandlers) Analytics(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	days := queryInt(r, "days", 30)
	if days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be positive")
		return
	}

	analytics, err := h.ledger.Analytics(r.Context(), email, time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.Warn("analytics query failed", zap.String("email", email), zap.Error(err))
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func parseHistoryFilter(r *http.Request) (ledger.HistoryFilter, error) {
	var filter ledger.HistoryFilter
	q := r.URL.Query()

	if raw := q.Get("type"); raw != "" {
		t := models.TransactionType(raw)
		if !t.Valid() {
			return filter, errBadQuery("type", raw)
		}
		filter.Type = &t
	}
	if raw := q.Get("source"); raw != "" {
		s := models.TransactionSource(raw)
		if !s.Valid() {
			return filter, errBadQuery("source", raw)
		}
		filter.Source = &s
	}
	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errBadQuery("start_date", raw)
		}
		filter.StartDate = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errBadQuery("end_date", raw)
		}
		filter.EndDate = &t
	}
	return filter, nil
}

type queryError struct {
	param string
	value string
}

func (e queryError) Error() string {
	return "invalid " + e.param + ": " + e.value
}

func errBadQuery(param, value string) error {
	return queryError{param: param, value: value}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
