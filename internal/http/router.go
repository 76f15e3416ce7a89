package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"resona/internal/http/handlers"
	"resona/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Credits   *handlers.CreditHandlers
	Consume   *handlers.ConsumeHandlers
	Transfers *handlers.TransferHandlers
	History   *handlers.HistoryHandlers
	Webhook   *handlers.WebhookHandler
	Health    http.HandlerFunc
	Metrics   http.Handler
	JWTSecret string
}

// NewRouter wires service endpoints. The /v1 surface requires a bearer
// token; /internal is reached only from inside the network boundary.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", deps.Health)
	r.Method(http.MethodGet, "/metrics", deps.Metrics)

	r.Route("/v1/users/{email}", func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.JWTSecret))

		r.Get("/credits", deps.Credits.Get)
		r.Post("/credits", deps.Credits.Add)
		r.Post("/credits/deduct", deps.Consume.Deduct)
		r.Post("/credits/deduct-action", deps.Consume.DeductAction)
		r.Post("/credits/transfer", deps.Transfers.Transfer)
		r.Post("/credits/transfer/preview", deps.Transfers.Preview)
		r.Get("/transactions", deps.History.List)
		r.Get("/transactions/analytics", deps.History.Analytics)
	})

	r.Post("/internal/billing/events", deps.Webhook.Handle)

	return r
}
