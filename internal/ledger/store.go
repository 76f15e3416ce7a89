package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"resona/internal/models"
)

// Store is the single persistence boundary for the ledger. Implementations
// must make Update a real atomic unit: everything fn writes commits or rolls
// back together, and while fn runs the store holds an exclusive lock for every
// listed user so mutating operations for one user are serialized against each
// other. Locks are acquired in sorted id order regardless of the order given.
type Store interface {
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn inside one transaction holding the given users' locks.
	Update(ctx context.Context, userIDs []uuid.UUID, fn func(Tx) error) error
}

// Tx exposes the reads and writes available inside a store unit.
type Tx interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)

	PackageByID(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	PackageByPlatformProduct(ctx context.Context, platform models.SubscriptionPlatform, productID string) (*models.CreditPackage, error)

	// ActiveBatches returns the user's drawable batches ordered ascending by
	// expiry with never-expiring batches last (the consumption order).
	ActiveBatches(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.BalanceBatch, error)
	// ActiveBatchRecords is ActiveBatches joined with package metadata.
	ActiveBatchRecords(ctx context.Context, userID uuid.UUID, now time.Time) ([]BatchRecord, error)
	InsertBatch(ctx context.Context, batch *models.BalanceBatch) error
	UpdateBatch(ctx context.Context, batch *models.BalanceBatch) error

	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	InsertConsumptionLogs(ctx context.Context, logs []models.ConsumptionLog) error

	SubscriptionByPlatformID(ctx context.Context, platformSubscriptionID string) (*models.Subscription, error)
	// ActiveSubscription returns nil, nil when the user has no active
	// subscription covering the given time.
	ActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)

	// TransactionPage returns one page of a user's history, newest first,
	// together with the total row count for the filter.
	TransactionPage(ctx context.Context, userID uuid.UUID, filter HistoryFilter, limit, offset int) ([]TransactionRecord, int, error)
	// TransactionsSince returns all of a user's transactions created at or
	// after the given time, oldest first.
	TransactionsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.Transaction, error)

	ActionCosts(ctx context.Context) ([]models.ActionCost, error)

	// MarkEventProcessed records an external billing event id. It returns
	// false when the id was already recorded, leaving the unit free to skip
	// re-applying the event.
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// BatchRecord pairs a balance batch with its issuing package, if any.
type BatchRecord struct {
	Batch   models.BalanceBatch
	Package *models.CreditPackage
}

// TransactionRecord pairs a transaction with its package, if any.
type TransactionRecord struct {
	Transaction models.Transaction
	Package     *models.CreditPackage
}

// HistoryFilter narrows a transaction history read.
type HistoryFilter struct {
	Type      *models.TransactionType
	Source    *models.TransactionSource
	StartDate *time.Time
	EndDate   *time.Time
}

// Matches reports whether a transaction passes the filter.
func (f HistoryFilter) Matches(txn models.Transaction) bool {
	if f.Type != nil && txn.Type != *f.Type {
		return false
	}
	if f.Source != nil && txn.Source != *f.Source {
		return false
	}
	if f.StartDate != nil && txn.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && txn.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}
