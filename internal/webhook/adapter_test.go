package webhook_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"resona/internal/ledger"
	"resona/internal/metrics"
	"resona/internal/models"
	"resona/internal/store/memory"
	"resona/internal/webhook"
)

var eventNow = time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T) (*webhook.Adapter, *memory.Store, models.User) {
	t.Helper()
	store := memory.New()
	user := models.User{ID: uuid.New(), Email: "carol@example.com", Name: "Carol"}
	store.SeedUser(user)

	systemPkg := models.CreditPackage{ID: uuid.New(), Name: "System"}
	store.SeedPackage(systemPkg)

	monthly := models.CreditPackage{
		ID:        uuid.New(),
		Name:      "Monthly 500",
		Credits:   500,
		Platform:  models.PlatformStripe,
		ProductID: "prod_monthly",
	}
	store.SeedPackage(monthly)

	store.SeedSubscription(models.Subscription{
		ID:                     uuid.New(),
		UserID:                 user.ID,
		PackageID:              monthly.ID,
		Platform:               models.PlatformStripe,
		PlatformSubscriptionID: "sub_42",
		Status:                 "active",
		CurrentPeriodEnd:       eventNow.Add(30 * 24 * time.Hour),
		CreditsPerPeriod:       500,
	})

	svc := ledger.NewService(store, nil, systemPkg.ID, metrics.New(), zap.NewNop()).
		WithClock(func() time.Time { return eventNow })
	return webhook.New(svc, store, nil, zap.NewNop()), store, user
}

func TestProcessRenewalEvent(t *testing.T) {
	adapter, store, _ := newAdapter(t)

	event := webhook.Event{
		EventID:        "evt_1",
		Type:           webhook.EventSubscriptionRenewed,
		Platform:       "stripe",
		SubscriptionID: "sub_42",
		PeriodStart:    eventNow,
		PeriodEnd:      eventNow.Add(30 * 24 * time.Hour),
	}

	result, err := adapter.Process(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, int64(500), result.Amount)
	assert.Equal(t, int64(500), result.NewBalance)

	// Re-delivery is acknowledged without a second grant.
	result, err = adapter.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Len(t, store.Transactions(), 1)
}

func TestProcessPurchaseEvent(t *testing.T) {
	adapter, store, user := newAdapter(t)

	event := webhook.Event{
		EventID:               "evt_2",
		Type:                  webhook.EventPurchaseCompleted,
		CustomerEmail:         user.Email,
		Platform:              "stripe",
		ProductID:             "prod_monthly",
		PlatformTransactionID: "pi_123",
	}

	result, err := adapter.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, int64(500), result.Amount)

	txns := store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, models.SourcePurchase, txns[0].Source)
	assert.Equal(t, "pi_123", txns[0].PlatformTransactionID)

	result, err = adapter.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Len(t, store.Transactions(), 1)
}

func TestProcessRejectsMalformedEvents(t *testing.T) {
	adapter, _, user := newAdapter(t)

	_, err := adapter.Process(context.Background(), webhook.Event{Type: webhook.EventPurchaseCompleted})
	assert.ErrorIs(t, err, webhook.ErrMissingEventID)

	_, err = adapter.Process(context.Background(), webhook.Event{
		EventID:       "evt_3",
		Type:          "subscription.cancelled",
		CustomerEmail: user.Email,
	})
	assert.ErrorIs(t, err, webhook.ErrUnknownEventType)

	_, err = adapter.Process(context.Background(), webhook.Event{
		EventID:       "evt_4",
		Type:          webhook.EventPurchaseCompleted,
		CustomerEmail: user.Email,
		Platform:      "stripe",
		ProductID:     "prod_unknown",
	})
	assert.ErrorIs(t, err, ledger.ErrPackageNotFound)
}
