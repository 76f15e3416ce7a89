// Package webhook translates billing platform events into ledger operations.
// Signature verification happens upstream; payloads arriving here are
// trusted. Delivery retries are expected, so every event carries an id that
// the ledger dedupes inside the grant's own atomic unit, with a redis
// fast path in front to skip obvious re-deliveries without touching the
// database.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"resona/internal/ledger"
	"resona/internal/models"
)

// Event types delivered by the billing platform adapter.
const (
	EventSubscriptionRenewed = "subscription.renewed"
	EventPurchaseCompleted   = "purchase.completed"
)

const seenTTL = 48 * time.Hour

// Event is one billing platform notification.
type Event struct {
	EventID               string    `json:"event_id"`
	Type                  string    `json:"type"`
	CustomerEmail         string    `json:"customer_email"`
	Platform              string    `json:"platform"`
	SubscriptionID        string    `json:"subscription_id,omitempty"`
	ProductID             string    `json:"product_id,omitempty"`
	PlatformTransactionID string    `json:"platform_transaction_id,omitempty"`
	PeriodStart           time.Time `json:"period_start,omitempty"`
	PeriodEnd             time.Time `json:"period_end,omitempty"`
}

// Result reports the ledger outcome for one event.
type Result struct {
	Duplicate     bool   `json:"duplicate"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	NewBalance    int64  `json:"new_balance,omitempty"`
}

var (
	ErrUnknownEventType = errors.New("webhook: unknown event type")
	ErrMissingEventID   = errors.New("webhook: event id required")
)

// Adapter routes events to the ledger.
type Adapter struct {
	ledger *ledger.Service
	store  ledger.Store
	cache  *redis.Client
	logger *zap.Logger
}

// New builds the adapter. cache may be nil, which disables the fast path.
func New(svc *ledger.Service, store ledger.Store, cache *redis.Client, logger *zap.Logger) *Adapter {
	return &Adapter{ledger: svc, store: store, cache: cache, logger: logger}
}

// Process applies one billing event. Re-delivered events return a duplicate
// result and change nothing.
func (a *Adapter) Process(ctx context.Context, event Event) (*Result, error) {
	if event.EventID == "" {
		return nil, ErrMissingEventID
	}
	if a.seenRecently(ctx, event.EventID) {
		a.logger.Info("billing event skipped by cache", zap.String("event_id", event.EventID))
		return &Result{Duplicate: true}, nil
	}

	var (
		result *ledger.IssueResult
		err    error
	)
	switch event.Type {
	case EventSubscriptionRenewed:
		result, err = a.ledger.ProcessRenewal(ctx, ledger.RenewalEvent{
			EventID:                event.EventID,
			PlatformSubscriptionID: event.SubscriptionID,
			PlatformTransactionID:  event.PlatformTransactionID,
			PeriodStart:            event.PeriodStart,
			PeriodEnd:              event.PeriodEnd,
		})
	case EventPurchaseCompleted:
		result, err = a.processPurchase(ctx, event)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	if errors.Is(err, ledger.ErrEventAlreadyProcessed) {
		a.markSeen(ctx, event.EventID)
		return &Result{Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	a.markSeen(ctx, event.EventID)
	return &Result{
		TransactionID: result.TransactionID.String(),
		Amount:        result.Amount,
		NewBalance:    result.NewBalance,
	}, nil
}

func (a *Adapter) processPurchase(ctx context.Context, event Event) (*ledger.IssueResult, error) {
	var pkg *models.CreditPackage
	err := a.store.View(ctx, func(tx ledger.Tx) error {
		found, err := tx.PackageByPlatformProduct(ctx, models.SubscriptionPlatform(event.Platform), event.ProductID)
		if err != nil {
			return err
		}
		pkg = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	return a.ledger.Issue(ctx, event.CustomerEmail, ledger.IssueParams{
		PackageID:             &pkg.ID,
		Source:                models.SourcePurchase,
		PlatformTransactionID: event.PlatformTransactionID,
		EventID:               event.EventID,
		Metadata: map[string]any{
			"platform":   event.Platform,
			"product_id": event.ProductID,
		},
	})
}

// seenRecently is best-effort: a cache miss or redis outage just falls
// through to the authoritative dedup inside the ledger.
func (a *Adapter) seenRecently(ctx context.Context, eventID string) bool {
	if a.cache == nil {
		return false
	}
	seen, err := a.cache.Exists(ctx, seenKey(eventID)).Result()
	if err != nil {
		return false
	}
	return seen > 0
}

func (a *Adapter) markSeen(ctx context.Context, eventID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, seenKey(eventID), "1", seenTTL).Err(); err != nil {
		a.logger.Warn("billing event cache write failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func seenKey(eventID string) string {
	return fmt.Sprintf("billing:events:%s", eventID)
}
