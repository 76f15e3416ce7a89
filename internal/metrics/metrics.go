package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CreditsIssued      *prometheus.CounterVec
	CreditsConsumed    prometheus.Counter
	CreditsTransferred prometheus.Counter
	InsufficientFunds  prometheus.Counter
	WebhookDuplicates  prometheus.Counter
}

// New registers the ledger collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CreditsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_issued_total",
			Help: "Credits granted, labeled by transaction source.",
		}, []string{"source"}),
		CreditsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "credits_consumed_total",
			Help: "Credits debited for metered actions.",
		}),
		CreditsTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "credits_transferred_total",
			Help: "Credits moved between users.",
		}),
		InsufficientFunds: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_insufficient_rejections_total",
			Help: "Debits rejected for insufficient balance.",
		}),
		WebhookDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_webhook_duplicates_total",
			Help: "Billing events skipped as already processed.",
		}),
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
