package ledger_test

import (
	"context"
	"sync"
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
)

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *ledger.Service
	store *memory.Store

	alice models.User
	bob   models.User

	systemPkg  models.CreditPackage
	starterPkg models.CreditPackage // 50 credits, expires in 30 days
	proPkg     models.CreditPackage // 100 credits, expires in 90 days
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.New(),
		alice: models.User{ID: uuid.New(), Email: "alice@example.com", Name: "Alice"},
		bob:   models.User{ID: uuid.New(), Email: "bob@example.com", Name: "Bob"},
	}
	f.systemPkg = models.CreditPackage{ID: uuid.New(), Name: "System"}
	thirty, ninety := 30, 90
	f.starterPkg = models.CreditPackage{ID: uuid.New(), Name: "Starter", Credits: 50, ExpirationDays: &thirty}
	f.proPkg = models.CreditPackage{ID: uuid.New(), Name: "Pro", Credits: 100, ExpirationDays: &ninety}

	f.store.SeedUser(f.alice)
	f.store.SeedUser(f.bob)
	f.store.SeedPackage(f.systemPkg)
	f.store.SeedPackage(f.starterPkg)
	f.store.SeedPackage(f.proPkg)

	f.svc = ledger.NewService(f.store, nil, f.systemPkg.ID, metrics.New(), zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	return f
}

func (f *fixture) issuePackage(t *testing.T, email string, pkg models.CreditPackage) *ledger.IssueResult {
	t.Helper()
	result, err := f.svc.Issue(context.Background(), email, ledger.IssueParams{
		PackageID: &pkg.ID,
		Source:    models.SourcePurchase,
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) balance(t *testing.T, email string) int64 {
	t.Helper()
	summary, err := f.svc.Balance(context.Background(), email)
	require.NoError(t, err)
	return summary.CurrentBalance
}

func (f *fixture) batchByTransaction(t *testing.T, txID uuid.UUID) models.BalanceBatch {
	t.Helper()
	for _, b := range f.store.Batches() {
		if b.TransactionID == txID {
			return b
		}
	}
	t.Fatalf("no batch for transaction %s", txID)
	return models.BalanceBatch{}
}

func TestIssueFromPackage(t *testing.T) {
	f := newFixture(t)

	result := f.issuePackage(t, f.alice.Email, f.starterPkg)
	assert.Equal(t, int64(50), result.Amount)
	assert.Equal(t, int64(50), result.NewBalance)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *result.ExpiresAt)

	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, models.TransactionCredit, txns[0].Type)
	assert.Equal(t, models.SourcePurchase, txns[0].Source)
	assert.Equal(t, int64(50), txns[0].BalanceAfter)

	batch := f.batchByTransaction(t, result.TransactionID)
	assert.Equal(t, int64(50), batch.InitialAmount)
	assert.Equal(t, int64(50), batch.RemainingAmount)
	assert.True(t, batch.IsActive)
}

func TestIssueWithoutPackageUsesSystemPackage(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Issue(context.Background(), f.alice.Email, ledger.IssueParams{
		Source: models.SourceSignupBonus,
		Amount: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.Amount)
	assert.Nil(t, result.ExpiresAt)

	batch := f.batchByTransaction(t, result.TransactionID)
	require.NotNil(t, batch.PackageID)
	assert.Equal(t, f.systemPkg.ID, *batch.PackageID)
	assert.Nil(t, batch.ExpiresAt)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, f.alice.Email, ledger.IssueParams{Source: "mystery", Amount: 10})
	assert.ErrorIs(t, err, ledger.ErrInvalidSource)

	_, err = f.svc.Issue(ctx, f.alice.Email, ledger.IssueParams{Source: models.SourceAdminGrant})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.Issue(ctx, "nobody@example.com", ledger.IssueParams{Source: models.SourceAdminGrant, Amount: 10})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	missing := uuid.New()
	_, err = f.svc.Issue(ctx, f.alice.Email, ledger.IssueParams{PackageID: &missing, Source: models.SourcePurchase})
	assert.ErrorIs(t, err, ledger.ErrPackageNotFound)

	assert.Empty(t, f.store.Transactions())
}

func TestIssueEventIDDedup(t *testing.T) {
	f := newFixture(t)
	params := ledger.IssueParams{
		PackageID: &f.starterPkg.ID,
		Source:    models.SourcePurchase,
		EventID:   "evt_123",
	}

	_, err := f.svc.Issue(context.Background(), f.alice.Email, params)
	require.NoError(t, err)

	_, err = f.svc.Issue(context.Background(), f.alice.Email, params)
	assert.ErrorIs(t, err, ledger.ErrEventAlreadyProcessed)

	assert.Equal(t, int64(50), f.balance(t, f.alice.Email))
	assert.Len(t, f.store.Transactions(), 1)
}

func TestDeductDrawsSoonestExpiringFirst(t *testing.T) {
	f := newFixture(t)
	starterGrant := f.issuePackage(t, f.alice.Email, f.starterPkg) // expires first
	proGrant := f.issuePackage(t, f.alice.Email, f.proPkg)

	result, err := f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
		Amount:      70,
		APIEndpoint: "/v1/generate",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80), result.NewBalance)

	starterBatch := f.batchByTransaction(t, starterGrant.TransactionID)
	assert.Equal(t, int64(0), starterBatch.RemainingAmount)
	assert.False(t, starterBatch.IsActive)
	require.NotNil(t, starterBatch.ConsumedAt)
	assert.Equal(t, testNow, *starterBatch.ConsumedAt)

	proBatch := f.batchByTransaction(t, proGrant.TransactionID)
	assert.Equal(t, int64(80), proBatch.RemainingAmount)
	assert.True(t, proBatch.IsActive)

	logs := f.store.ConsumptionLogs()
	require.Len(t, logs, 2)
	drawnByBatch := map[uuid.UUID]int64{}
	for _, log := range logs {
		assert.Equal(t, result.TransactionID, log.TransactionID)
		assert.Equal(t, "/v1/generate", log.APIEndpoint)
		drawnByBatch[log.BalanceID] = log.Amount
	}
	assert.Equal(t, int64(50), drawnByBatch[starterBatch.ID])
	assert.Equal(t, int64(20), drawnByBatch[proBatch.ID])
}

func TestDeductDrawsNeverExpiringLast(t *testing.T) {
	f := newFixture(t)

	// Never-expiring grant booked first, expiring grant after it.
	_, err := f.svc.Issue(context.Background(), f.alice.Email, ledger.IssueParams{
		Source: models.SourceAdminGrant,
		Amount: 40,
	})
	require.NoError(t, err)
	starterGrant := f.issuePackage(t, f.alice.Email, f.starterPkg)

	_, err = f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
		Amount:      50,
		APIEndpoint: "/v1/generate",
	})
	require.NoError(t, err)

	starterBatch := f.batchByTransaction(t, starterGrant.TransactionID)
	assert.Equal(t, int64(0), starterBatch.RemainingAmount, "expiring batch drains before the never-expiring one")
	assert.Equal(t, int64(40), f.balance(t, f.alice.Email))
}

func TestDeductInsufficientLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)

	_, err := f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
		Amount:      51,
		APIEndpoint: "/v1/generate",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	assert.Equal(t, int64(50), f.balance(t, f.alice.Email))
	assert.Len(t, f.store.Transactions(), 1, "only the grant transaction exists")
	assert.Empty(t, f.store.ConsumptionLogs())
}

func TestDeductIgnoresExpiredBatches(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)

	// Jump past the starter package's 30 day expiry.
	f.svc.WithClock(func() time.Time { return testNow.Add(31 * 24 * time.Hour) })

	assert.Equal(t, int64(0), f.balance(t, f.alice.Email))
	_, err := f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
		Amount:      1,
		APIEndpoint: "/v1/generate",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
}

func TestDeductValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{Amount: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{Amount: -5})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

type staticCosts struct {
	costs map[string]models.ActionCost
}

func (s staticCosts) CostFor(_ context.Context, actionType string) (*models.ActionCost, error) {
	cost, ok := s.costs[actionType]
	if !ok {
		return nil, ledger.ErrActionNotFound
	}
	return &cost, nil
}

func TestDeductForAction(t *testing.T) {
	f := newFixture(t)
	resolver := staticCosts{costs: map[string]models.ActionCost{
		"image_generation": {ActionType: "image_generation", Cost: 10, Endpoint: "/v1/images", IsActive: true},
	}}
	svc := ledger.NewService(f.store, resolver, f.systemPkg.ID, metrics.New(), zap.NewNop()).
		WithClock(func() time.Time { return testNow })

	f.issuePackage(t, f.alice.Email, f.starterPkg)

	result, err := svc.DeductForAction(context.Background(), f.alice.Email, "image_generation", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Amount)
	assert.Equal(t, int64(40), result.NewBalance)

	logs := f.store.ConsumptionLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "/v1/images", logs[0].APIEndpoint)

	_, err = svc.DeductForAction(context.Background(), f.alice.Email, "time_travel", nil)
	assert.ErrorIs(t, err, ledger.ErrActionNotFound)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)
	f.issuePackage(t, f.bob.Email, f.proPkg)

	result, err := f.svc.Transfer(context.Background(), f.alice.Email, f.bob.Email, 30, "")
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.SenderBalance)
	assert.Equal(t, int64(130), result.ReceiverBalance)

	assert.Equal(t, int64(20), f.balance(t, f.alice.Email))
	assert.Equal(t, int64(130), f.balance(t, f.bob.Email))

	var senderTxn, receiverTxn *models.Transaction
	for _, txn := range f.store.Transactions() {
		switch txn.ID {
		case result.SenderTransactionID:
			senderTxn = &txn
		case result.ReceiverTransactionID:
			receiverTxn = &txn
		}
	}
	require.NotNil(t, senderTxn)
	require.NotNil(t, receiverTxn)
	assert.Equal(t, models.TransactionDebit, senderTxn.Type)
	assert.Equal(t, models.TransactionCredit, receiverTxn.Type)
	assert.Equal(t, models.SourcePeerTransfer, senderTxn.Source)
	assert.Equal(t, models.SourcePeerTransfer, receiverTxn.Source)
	require.NotNil(t, senderTxn.RelatedTransactionID)
	require.NotNil(t, receiverTxn.RelatedTransactionID)
	assert.Equal(t, *senderTxn.RelatedTransactionID, *receiverTxn.RelatedTransactionID, "legs share a correlation id")

	// Received credits never expire and inherit the drawn-from package.
	receiverBatch := f.batchByTransaction(t, result.ReceiverTransactionID)
	assert.Nil(t, receiverBatch.ExpiresAt)
	require.NotNil(t, receiverBatch.PackageID)
	assert.Equal(t, f.starterPkg.ID, *receiverBatch.PackageID)

	logs := f.store.ConsumptionLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, result.SenderTransactionID, logs[0].TransactionID)
	assert.Equal(t, int64(30), logs[0].Amount)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)
	ctx := context.Background()

	_, err := f.svc.Transfer(ctx, f.alice.Email, f.alice.Email, 10, "")
	assert.ErrorIs(t, err, ledger.ErrSelfTransfer)

	_, err = f.svc.Transfer(ctx, f.alice.Email, "ALICE@example.com", 10, "")
	assert.ErrorIs(t, err, ledger.ErrSelfTransfer, "self transfer check is case insensitive")

	_, err = f.svc.Transfer(ctx, f.alice.Email, f.bob.Email, 0, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.Transfer(ctx, f.alice.Email, "nobody@example.com", 10, "")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	_, err = f.svc.Transfer(ctx, f.alice.Email, f.bob.Email, 500, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	assert.Equal(t, int64(50), f.balance(t, f.alice.Email))
	assert.Equal(t, int64(0), f.balance(t, f.bob.Email))
}

func TestTransferPreview(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)

	preview, err := f.svc.TransferPreview(context.Background(), f.alice.Email, f.bob.Email, 30)
	require.NoError(t, err)
	assert.Equal(t, "Bob", preview.BeneficiaryName)
	assert.Equal(t, f.bob.Email, preview.BeneficiaryEmail)

	_, err = f.svc.TransferPreview(context.Background(), f.alice.Email, f.bob.Email, 60)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	assert.Len(t, f.store.Transactions(), 1, "preview writes nothing")
}

func TestProcessRenewal(t *testing.T) {
	f := newFixture(t)
	sub := models.Subscription{
		ID:                     uuid.New(),
		UserID:                 f.alice.ID,
		PackageID:              f.proPkg.ID,
		Platform:               models.PlatformStripe,
		PlatformSubscriptionID: "sub_abc",
		Status:                 "active",
		CurrentPeriodEnd:       testNow.Add(30 * 24 * time.Hour),
		CreditsPerPeriod:       100,
	}
	f.store.SeedSubscription(sub)

	event := ledger.RenewalEvent{
		EventID:                "evt_renewal_1",
		PlatformSubscriptionID: "sub_abc",
		PlatformTransactionID:  "txn_1",
		PeriodStart:            testNow,
		PeriodEnd:              testNow.Add(30 * 24 * time.Hour),
	}

	result, err := f.svc.ProcessRenewal(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Amount)
	assert.Equal(t, int64(100), f.balance(t, f.alice.Email))

	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, models.SourceSubscriptionRenewal, txns[0].Source)
	require.NotNil(t, txns[0].SubscriptionID)
	assert.Equal(t, sub.ID, *txns[0].SubscriptionID)

	// Re-delivery of the same event changes nothing.
	_, err = f.svc.ProcessRenewal(context.Background(), event)
	assert.ErrorIs(t, err, ledger.ErrEventAlreadyProcessed)
	assert.Equal(t, int64(100), f.balance(t, f.alice.Email))
	assert.Len(t, f.store.Transactions(), 1)
}

func TestProcessRenewalUnknownOrInactiveSubscription(t *testing.T) {
	f := newFixture(t)
	f.store.SeedSubscription(models.Subscription{
		ID:                     uuid.New(),
		UserID:                 f.alice.ID,
		PackageID:              f.proPkg.ID,
		PlatformSubscriptionID: "sub_cancelled",
		Status:                 "cancelled",
	})

	_, err := f.svc.ProcessRenewal(context.Background(), ledger.RenewalEvent{
		EventID:                "evt_1",
		PlatformSubscriptionID: "sub_missing",
	})
	assert.ErrorIs(t, err, ledger.ErrSubscriptionNotFound)

	_, err = f.svc.ProcessRenewal(context.Background(), ledger.RenewalEvent{
		EventID:                "evt_2",
		PlatformSubscriptionID: "sub_cancelled",
	})
	assert.ErrorIs(t, err, ledger.ErrSubscriptionNotFound)
}

func TestConcurrentDeductsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.proPkg) // 100 credits

	const workers = 20
	var wg sync.WaitGroup
	succeeded := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
				Amount:      10,
				APIEndpoint: "/v1/generate",
			})
			if err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	assert.Equal(t, 10, len(succeeded), "exactly the available credits are spent")
	assert.Equal(t, int64(0), f.balance(t, f.alice.Email))

	var debited int64
	for _, txn := range f.store.Transactions() {
		if txn.Type == models.TransactionDebit {
			debited += txn.Amount
		}
	}
	assert.Equal(t, int64(100), debited)
}

func TestBalanceAndCreditDetails(t *testing.T) {
	f := newFixture(t)
	f.issuePackage(t, f.alice.Email, f.starterPkg)
	_, err := f.svc.Deduct(context.Background(), f.alice.Email, ledger.DeductParams{
		Amount:      20,
		APIEndpoint: "/v1/generate",
	})
	require.NoError(t, err)

	summary, err := f.svc.Balance(context.Background(), f.alice.Email)
	require.NoError(t, err)
	assert.Equal(t, int64(30), summary.CurrentBalance)
	assert.Equal(t, int64(50), summary.TotalEarned)
	assert.Equal(t, int64(20), summary.TotalUsed)

	details, err := f.svc.CreditDetails(context.Background(), f.alice.Email)
	require.NoError(t, err)
	require.Len(t, details.Batches, 1)
	batch := details.Batches[0]
	assert.Equal(t, "Starter", batch.PackageName)
	assert.Equal(t, int64(30), batch.RemainingAmount)
	assert.Equal(t, 40.0, batch.ConsumedPercent)
	require.NotNil(t, batch.TimeToExpiry)
	assert.Equal(t, 30, batch.TimeToExpiry.Days)
	assert.Nil(t, details.ActiveSubscription)
}

func TestCreditDetailsWithSubscription(t *testing.T) {
	f := newFixture(t)
	f.store.SeedSubscription(models.Subscription{
		ID:                     uuid.New(),
		UserID:                 f.alice.ID,
		PackageID:              f.proPkg.ID,
		Platform:               models.PlatformStripe,
		PlatformSubscriptionID: "sub_abc",
		Status:                 "active",
		CurrentPeriodEnd:       testNow.Add(15 * 24 * time.Hour),
		CreditsPerPeriod:       100,
	})

	details, err := f.svc.CreditDetails(context.Background(), f.alice.Email)
	require.NoError(t, err)
	require.NotNil(t, details.ActiveSubscription)
	assert.Equal(t, "Pro", details.ActiveSubscription.PackageName)
	assert.Equal(t, int64(100), details.ActiveSubscription.CreditsPerPeriod)
	assert.Equal(t, models.PlatformStripe, details.ActiveSubscription.Platform)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Grant, consume across batches, transfer, then verify the ledger adds up.
	f.issuePackage(t, f.alice.Email, f.starterPkg)
	f.issuePackage(t, f.alice.Email, f.proPkg)

	_, err := f.svc.Deduct(ctx, f.alice.Email, ledger.DeductParams{Amount: 70, APIEndpoint: "/v1/generate"})
	require.NoError(t, err)

	_, err = f.svc.Transfer(ctx, f.alice.Email, f.bob.Email, 30, "")
	require.NoError(t, err)

	assert.Equal(t, int64(50), f.balance(t, f.alice.Email))
	assert.Equal(t, int64(30), f.balance(t, f.bob.Email))

	// Every transaction's balance_after replays to the final balances.
	perUserBalance := map[uuid.UUID]int64{}
	for _, txn := range f.store.Transactions() {
		switch txn.Type {
		case models.TransactionCredit:
			perUserBalance[txn.UserID] += txn.Amount
		case models.TransactionDebit:
			perUserBalance[txn.UserID] -= txn.Amount
		}
		assert.Equal(t, perUserBalance[txn.UserID], txn.BalanceAfter)
	}
	assert.Equal(t, int64(50), perUserBalance[f.alice.ID])
	assert.Equal(t, int64(30), perUserBalance[f.bob.ID])
}
