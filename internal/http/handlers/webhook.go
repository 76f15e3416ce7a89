package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"resona/internal/webhook"
)

// WebhookHandler receives billing platform events.
type WebhookHandler struct {
	adapter *webhook.Adapter
	logger  *zap.Logger
}

// NewWebhookHandler returns handler.
func NewWebhookHandler(adapter *webhook.Adapter, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{adapter: adapter, logger: logger}
}

// Handle processes POST /internal/billing/events. Re-delivered events get a
// 200 with duplicate:true so the platform stops retrying.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var event webhook.Event
	if err := decodeJSON(r, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	result, err := h.adapter.Process(r.Context(), event)
	if err != nil {
		h.logger.Error("billing event failed",
			zap.String("event_id", event.EventID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		if errors.Is(err, webhook.ErrUnknownEventType) || errors.Is(err, webhook.ErrMissingEventID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
